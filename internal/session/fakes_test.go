package session

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/pixel-canvas/internal/connection"
	"github.com/rickgao/pixel-canvas/internal/token"
)

// fakeClient is an in-memory connection.Client.
type fakeClient struct {
	id   string
	msgs chan connection.TimestampedMessage
	errs chan error
	done chan struct{}

	mu     sync.Mutex
	sent   [][]byte
	closed bool
	stall  chan struct{} // Send waits on it when set

	sending atomic.Int32 // Sends in progress
}

var clientSeq atomic.Int64

func newFakeClient() *fakeClient {
	return &fakeClient{
		id:   fmt.Sprintf("conn-%d", clientSeq.Add(1)),
		msgs: make(chan connection.TimestampedMessage, 16),
		errs: make(chan error, 1),
		done: make(chan struct{}),
	}
}

func (c *fakeClient) Connect(context.Context) error { return nil }

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

func (c *fakeClient) Send(data []byte) error {
	c.mu.Lock()
	stall := c.stall
	c.mu.Unlock()
	if stall != nil {
		c.sending.Add(1)
		<-stall
		c.sending.Add(-1)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return connection.ErrNotConnected
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

// stallSends makes Send block until the returned func is called.
func (c *fakeClient) stallSends() (release func()) {
	ch := make(chan struct{})
	c.mu.Lock()
	c.stall = ch
	c.mu.Unlock()
	return func() { close(ch) }
}

func (c *fakeClient) Messages() <-chan connection.TimestampedMessage { return c.msgs }
func (c *fakeClient) Errors() <-chan error                         { return c.errs }
func (c *fakeClient) Done() <-chan struct{}                         { return c.done }
func (c *fakeClient) ID() string                                    { return c.id }

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeClient) push(data string) {
	c.msgs <- connection.TimestampedMessage{Data: []byte(data), ReceivedAt: time.Now()}
}

func (c *fakeClient) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, b := range c.sent {
		out[i] = string(b)
	}
	return out
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeTokens answers token requests with respond, or a fixed token.
type fakeTokens struct {
	respond func(ctx context.Context, call int, r token.Request) (*token.Response, error)

	mu       sync.Mutex
	requests []token.Request
}

func (f *fakeTokens) RequestToken(ctx context.Context, r token.Request) (*token.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, r)
	call := len(f.requests)
	f.mu.Unlock()

	if f.respond != nil {
		return f.respond(ctx, call, r)
	}
	return &token.Response{Token: fmt.Sprintf("tok-%d", call)}, nil
}

func (f *fakeTokens) Requests() []token.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]token.Request(nil), f.requests...)
}

// fakeDialer hands out a fresh fakeClient per dial.
type fakeDialer struct {
	err error

	mu      sync.Mutex
	urls    []string
	clients []*fakeClient
}

func (d *fakeDialer) Dial(ctx context.Context, rawURL string) (connection.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, rawURL)
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeClient()
	d.clients = append(d.clients, c)
	return c, nil
}

func (d *fakeDialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

func (d *fakeDialer) Clients() []*fakeClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeClient(nil), d.clients...)
}

func (d *fakeDialer) last() *fakeClient {
	cs := d.Clients()
	if len(cs) == 0 {
		return nil
	}
	return cs[len(cs)-1]
}

// fakeHandler records what the manager delivers.
type fakeHandler struct {
	fail  string // Payload rejected with an error
	panic string // Payload that panics

	mu       sync.Mutex
	inits    int
	messages []string
}

func (h *fakeHandler) Initialize() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inits++
}

func (h *fakeHandler) HandleMessage(data []byte) error {
	if h.panic != "" && string(data) == h.panic {
		panic("boom")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, string(data))
	if h.fail != "" && string(data) == h.fail {
		return fmt.Errorf("rejected %q", data)
	}
	return nil
}

func (h *fakeHandler) Inits() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inits
}

func (h *fakeHandler) Messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.messages...)
}

// fakeUI records user-visible effects.
type fakeUI struct {
	mu        sync.Mutex
	notices   []string
	alerts    []error
	colorForm int
}

func (u *fakeUI) ShowNotice(msg string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.notices = append(u.notices, msg)
}

func (u *fakeUI) Alert(err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.alerts = append(u.alerts, err)
}

func (u *fakeUI) ShowColorForm() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.colorForm++
}

func (u *fakeUI) Notices() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.notices...)
}

func (u *fakeUI) Alerts() []error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]error(nil), u.alerts...)
}

func (u *fakeUI) ColorForms() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.colorForm
}

// logBuffer is a bytes.Buffer safe for concurrent slog writes.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
