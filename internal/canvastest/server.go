// Package canvastest provides an in-process canvas server for tests: a token
// endpoint issuing single-use tokens and a websocket endpoint that assigns
// submitted colors to cells in turn order and broadcasts the grid.
package canvastest

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/rickgao/pixel-canvas/internal/token"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// grant is an issued, not yet used token.
type grant struct {
	req     token.Request
	expires time.Time
}

// peer is one connected stream client.
type peer struct {
	id     string
	userID string
	conn   *websocket.Conn
	mu     sync.Mutex
}

func (p *peer) write(messageType int, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(time.Second))
	return p.conn.WriteMessage(messageType, data)
}

func (p *peer) ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
}

// Server is a fake canvas server.
type Server struct {
	endpoint string
	size     int
	flat     bool
	ttl      time.Duration
	logger   *slog.Logger

	srv *httptest.Server

	mu         sync.Mutex
	grants     map[string]grant
	nextTokens []string
	failStatus int
	requests   []token.Request
	colors     []string
	cells      map[int]string
	next       int
	peers      map[string]*peer
	connects   int
}

// Option configures a Server.
type Option func(*Server)

// WithEndpoint sets the stream endpoint name (default "wsGrid").
func WithEndpoint(name string) Option {
	return func(s *Server) {
		s.endpoint = name
	}
}

// WithSize sets the grid size (default 25).
func WithSize(n int) Option {
	return func(s *Server) {
		s.size = n
	}
}

// WithFlatPayload broadcasts the bare index->color map instead of the
// nested grid_cores/proximo_pixel object.
func WithFlatPayload() Option {
	return func(s *Server) {
		s.flat = true
	}
}

// WithTokenTTL sets how long issued tokens stay valid (default 60s).
func WithTokenTTL(d time.Duration) Option {
	return func(s *Server) {
		s.ttl = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer starts a Server. Close it when done.
func NewServer(opts ...Option) *Server {
	s := &Server{
		endpoint: "wsGrid",
		size:     25,
		ttl:      60 * time.Second,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		grants:   make(map[string]grant),
		cells:    make(map[int]string),
		peers:    make(map[string]*peer),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := httprouter.New()
	mux.POST(s.TokenPath(), s.serveToken)
	mux.GET("/"+s.endpoint, s.serveStream)

	s.srv = httptest.NewServer(mux)
	return s
}

// Close disconnects every peer and shuts the server down.
func (s *Server) Close() {
	s.mu.Lock()
	for id, p := range s.peers {
		p.conn.Close()
		delete(s.peers, id)
	}
	s.mu.Unlock()
	s.srv.Close()
}

// Host returns host:port of the server.
func (s *Server) Host() string {
	return strings.TrimPrefix(s.srv.URL, "http://")
}

// URL returns the server's base HTTP URL.
func (s *Server) URL() string {
	return s.srv.URL
}

// Endpoint returns the stream endpoint name.
func (s *Server) Endpoint() string {
	return s.endpoint
}

// TokenPath returns the token route: "/getToken" + Endpoint with its first
// letter upper-cased.
func (s *Server) TokenPath() string {
	if s.endpoint == "" {
		return "/getToken"
	}
	return "/getToken" + strings.ToUpper(s.endpoint[:1]) + s.endpoint[1:]
}

// SetNextToken makes the next token request return tok instead of a random
// token. Calls queue up.
func (s *Server) SetNextToken(tok string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTokens = append(s.nextTokens, tok)
}

// FailTokens makes token requests answer with status. Zero restores normal
// behavior.
func (s *Server) FailTokens(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = status
}

// TokenRequests returns every token request received.
func (s *Server) TokenRequests() []token.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]token.Request(nil), s.requests...)
}

// Colors returns every color received on stream connections, de-quoted.
func (s *Server) Colors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.colors...)
}

// OpenConns returns the number of live stream connections.
func (s *Server) OpenConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Connects returns the number of stream connections ever accepted.
func (s *Server) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// Cells returns a copy of the server's grid.
func (s *Server) Cells() map[int]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]string, len(s.cells))
	for i, c := range s.cells {
		out[i] = c
	}
	return out
}

// Send writes raw to every connected peer.
func (s *Server) Send(raw string) {
	for _, p := range s.snapshotPeers() {
		if err := p.write(websocket.TextMessage, []byte(raw)); err != nil {
			s.logger.Debug("send failed", "peer", p.id, "error", err)
		}
	}
}

// Broadcast sends the current grid to every connected peer.
func (s *Server) Broadcast() {
	s.Send(string(s.payload()))
}

// Disconnect closes every peer with a going-away close frame.
func (s *Server) Disconnect() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, p := range s.snapshotPeers() {
		p.mu.Lock()
		p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		p.mu.Unlock()
		p.conn.Close()
	}
}

func (s *Server) snapshotPeers() []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}

// payload encodes the grid in the configured shape.
func (s *Server) payload() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	cells := make(map[string]string, len(s.cells))
	for i, c := range s.cells {
		cells[strconv.Itoa(i)] = c
	}

	var v any = cells
	if !s.flat {
		v = map[string]any{
			"grid_cores":    cells,
			"proximo_pixel": s.next + 1,
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("canvastest: encode grid: %v", err))
	}
	return data
}

// paint assigns color to the next cell in turn order.
func (s *Server) paint(color string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	color = strings.Trim(color, "\"")
	s.colors = append(s.colors, color)

	if s.next >= s.size {
		s.next = 0
	}
	s.cells[s.next] = color
	s.next++
	if s.next >= s.size {
		s.next = 0
	}
}

func (s *Server) serveToken(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")

	var req token.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "decode request: "+err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	status := s.failStatus
	s.mu.Unlock()

	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if req.UserID == "" || req.UserName == "" {
		http.Error(w, "user id and name are required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	tok := uuid.NewString()
	if len(s.nextTokens) > 0 {
		tok = s.nextTokens[0]
		s.nextTokens = s.nextTokens[1:]
	}
	g := grant{req: req, expires: time.Now().Add(s.ttl)}
	s.grants[tok] = g
	s.mu.Unlock()

	s.logger.Debug("token issued", "user", req.UserName, "user_id", req.UserID)

	json.NewEncoder(w).Encode(token.Response{Token: tok, ExpiresAt: g.expires})
}

func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	otp := r.URL.Query().Get("otp")
	if otp == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	g, ok := s.grants[otp]
	delete(s.grants, otp)
	s.mu.Unlock()

	if !ok || time.Now().After(g.expires) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "error", err)
		return
	}

	p := &peer{id: uuid.NewString(), userID: g.req.UserID, conn: conn}

	s.mu.Lock()
	s.peers[p.id] = p
	s.connects++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.peers, p.id)
		s.mu.Unlock()
		conn.Close()
	}()

	if err := p.ping(); err != nil {
		return
	}
	s.Broadcast()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.paint(string(data))
		s.Broadcast()
	}
}
