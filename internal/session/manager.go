package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/rickgao/pixel-canvas/internal/connection"
	"github.com/rickgao/pixel-canvas/internal/token"
)

// Manager owns the session state machine and the single stream connection.
type Manager struct {
	cfg     Config
	tokens  TokenRequester
	dialer  Dialer
	handler Handler
	ui      UI
	logger  *slog.Logger
	newID   func() string

	events chan event
	done   chan struct{} // Closed when the event loop exits

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	startMu sync.Mutex
	started bool

	snapMu sync.RWMutex
	snap   Status // Published by the loop after every event

	// Owned by the event loop.
	state         State
	attempt       uint64
	conn          connection.Client
	cancelAttempt context.CancelFunc
	userName      string
	clientID      string
}

// New creates a Manager. ui may be nil.
func New(cfg Config, tokens TokenRequester, dialer Dialer, handler Handler, ui UI, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if ui == nil {
		ui = nopUI{}
	}
	if cfg.EventBuffer < 1 {
		cfg.EventBuffer = 1
	}

	return &Manager{
		cfg:     cfg,
		tokens:  tokens,
		dialer:  dialer,
		handler: handler,
		ui:      ui,
		logger:  logger.With("endpoint", cfg.Endpoint),
		newID:   uuid.NewString,
		events:  make(chan event, cfg.EventBuffer),
		done:    make(chan struct{}),
		state:   StateIdle,
	}
}

// Run runs the event loop on the calling goroutine until ctx is done. The
// owned connection is closed on return.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.init(ctx); err != nil {
		return err
	}
	m.wg.Add(1)
	m.run()
	m.wg.Wait()
	return nil
}

// Start launches the event loop in the background.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.init(ctx); err != nil {
		return err
	}
	m.wg.Add(1)
	go m.run()
	return nil
}

func (m *Manager) init(ctx context.Context) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	if m.started {
		return errors.New("session manager already started")
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.logger.Info("session manager started", "host", m.cfg.Host)
	return nil
}

// Stop closes the connection and waits for every goroutine to finish.
func (m *Manager) Stop(ctx context.Context) error {
	m.startMu.Lock()
	started := m.started
	m.startMu.Unlock()
	if !started {
		return nil
	}

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("session manager stopped")
		return nil
	case <-ctx.Done():
		m.logger.Warn("session manager stop timed out")
		return ctx.Err()
	}
}

// RegisterUser starts a new session for name. It returns once the token
// request has been issued; a *ValidationError is returned, and nothing is
// sent, when the trimmed name is too short.
func (m *Manager) RegisterUser(ctx context.Context, name string) error {
	reply := make(chan error, 1)
	if err := m.send(ctx, registerIntent{name: name, reply: reply}); err != nil {
		return err
	}
	err, waitErr := await(ctx, m.done, reply)
	if waitErr != nil {
		return waitErr
	}
	return err
}

// SubmitColor sends color on the open connection without waiting for any
// acknowledgement. ErrNotConnected is returned when nothing is open.
func (m *Manager) SubmitColor(ctx context.Context, color string) error {
	reply := make(chan error, 1)
	if err := m.send(ctx, submitIntent{color: color, reply: reply}); err != nil {
		return err
	}
	err, waitErr := await(ctx, m.done, reply)
	if waitErr != nil {
		return waitErr
	}
	return err
}

// CloseExisting closes the current connection, if any, and abandons any
// registration in flight. It is a no-op when nothing is open.
func (m *Manager) CloseExisting(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := m.send(ctx, closeIntent{reply: reply}); err != nil {
		return err
	}
	err, waitErr := await(ctx, m.done, reply)
	if waitErr != nil {
		return waitErr
	}
	return err
}

// Status returns the current session status.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if err := m.send(ctx, statusIntent{reply: reply}); err != nil {
		return Status{}, err
	}
	return await(ctx, m.done, reply)
}

// State returns the state as of the last processed event.
func (m *Manager) State() State {
	return m.Snapshot().State
}

// Snapshot returns the status as of the last processed event. Unlike Status
// it never blocks on the event loop.
func (m *Manager) Snapshot() Status {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snap
}

// send queues an intent for the event loop.
func (m *Manager) send(ctx context.Context, ev event) error {
	select {
	case m.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrStopped
	}
}

// await waits for the loop's reply to an intent.
func await[T any](ctx context.Context, done <-chan struct{}, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-done:
		// The loop may have replied just before exiting.
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, ErrStopped
		}
	}
}

// post delivers an off-loop result to the event loop.
func (m *Manager) post(ev event) bool {
	if m.ctx.Err() != nil {
		return false
	}
	select {
	case m.events <- ev:
		return true
	case <-m.ctx.Done():
		return false
	}
}

// run is the event loop.
func (m *Manager) run() {
	defer m.wg.Done()
	defer close(m.done)

	for {
		select {
		case <-m.ctx.Done():
			m.abandonAttempt()
			m.closeExisting()
			m.setState(closedOnExit(m.state))
			m.publish()
			m.discardPending()
			return
		case ev := <-m.events:
			m.dispatch(ev)
			m.publish()
		}
	}
}

// discardPending closes connections left in queued dial results.
func (m *Manager) discardPending() {
	for {
		select {
		case ev := <-m.events:
			if r, ok := ev.(dialResult); ok && r.client != nil {
				r.client.Close()
			}
		default:
			return
		}
	}
}

// dispatch handles one event.
func (m *Manager) dispatch(ev event) {
	switch e := ev.(type) {
	case registerIntent:
		err := m.handleRegister(e.name)
		m.publish()
		e.reply <- err
	case submitIntent:
		m.handleSubmit(e)
	case closeIntent:
		m.handleCloseIntent()
		m.publish()
		e.reply <- nil
	case statusIntent:
		e.reply <- m.status()
	case tokenResult:
		m.handleTokenResult(e)
	case dialResult:
		m.handleDialResult(e)
	case transportEvent:
		m.handleTransport(e)
	default:
		m.logger.Error("unknown event", "type", fmt.Sprintf("%T", ev))
	}
}

// handleRegister validates name and issues the token request.
func (m *Manager) handleRegister(name string) error {
	trimmed := strings.TrimSpace(name)
	if utf8.RuneCountInString(trimmed) < m.cfg.MinNameLength {
		err := &ValidationError{
			Field:   "name",
			Message: fmt.Sprintf("must have at least %d characters", m.cfg.MinNameLength),
		}
		m.ui.ShowNotice("Name " + err.Message)
		m.logger.Debug("registration rejected", "error", err)
		return err
	}
	m.ui.ShowNotice("")

	// Restart from Idle whatever the current state.
	m.abandonAttempt()
	m.closeExisting()
	m.setState(StateIdle)

	m.attempt++
	attempt := m.attempt
	m.userName = trimmed
	m.clientID = m.newID()
	m.setState(StateAwaitingToken)

	req := token.Request{UserName: trimmed, UserID: m.clientID}
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.TokenTimeout)
	m.cancelAttempt = cancel

	m.logger.Info("requesting token", "user", trimmed, "client_id", m.clientID)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		resp, err := m.tokens.RequestToken(ctx, req)
		m.post(tokenResult{attempt: attempt, resp: resp, err: err})
	}()

	return nil
}

// handleTokenResult opens the stream once a token arrives.
func (m *Manager) handleTokenResult(r tokenResult) {
	if r.attempt != m.attempt || m.state != StateAwaitingToken {
		m.logger.Debug("discarding stale token response", "attempt", r.attempt)
		return
	}
	m.cancelAttempt = nil

	if r.err == nil && (r.resp == nil || r.resp.Token == "") {
		r.err = &token.RequestError{Err: token.ErrMissingToken}
	}
	if r.err != nil {
		m.setState(StateIdle)
		m.logger.Error("token request failed", "user", m.userName, "error", r.err)
		m.ui.Alert(r.err)
		return
	}

	m.closeExisting()
	m.setState(StateConnecting)

	rawURL := connection.StreamURL(m.cfg.Scheme, m.cfg.Host, m.cfg.Endpoint, r.resp.Token)
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.DialTimeout)
	m.cancelAttempt = cancel
	attempt := m.attempt

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		c, err := m.dialer.Dial(ctx, rawURL)
		if !m.post(dialResult{attempt: attempt, client: c, err: err}) && c != nil {
			c.Close()
		}
	}()
}

// handleDialResult is the transport "open" event, or the failure to open.
func (m *Manager) handleDialResult(r dialResult) {
	if r.attempt != m.attempt || m.state != StateConnecting {
		if r.client != nil {
			m.logger.Info("closing superseded connection", "conn_id", r.client.ID())
			r.client.Close()
		}
		return
	}
	m.cancelAttempt = nil

	if r.err != nil {
		m.setState(StateClosed)
		m.logger.Warn("connection failed", "user", m.userName, "error", r.err)
		return
	}

	m.closeExisting()
	m.conn = r.client
	m.setState(StateOpen)
	m.logger.Info("connection open", "conn_id", r.client.ID(), "user", m.userName)

	m.ui.ShowColorForm()
	m.initializeHandler()

	m.wg.Add(1)
	go m.pump(r.client)
}

// handleTransport reacts to a frame, error or close from a connection.
func (m *Manager) handleTransport(e transportEvent) {
	owned := m.conn != nil && e.client == m.conn

	switch e.kind {
	case transportMessage:
		if !owned {
			m.logger.Debug("dropping message from superseded connection", "conn_id", e.client.ID())
			return
		}
		m.logger.Debug("message received", "conn_id", e.client.ID(), "bytes", len(e.data), "lag", time.Since(e.at))
		if err := m.handleMessage(e.data); err != nil {
			m.logger.Warn("discarding message", "conn_id", e.client.ID(), "error", err)
		}

	case transportError:
		m.logger.Warn("connection error", "conn_id", e.client.ID(), "owned", owned, "error", e.err)

	case transportClose:
		m.logger.Info("connection closed", "conn_id", e.client.ID(), "owned", owned, "reason", e.err)
		if !owned {
			return
		}
		m.conn = nil
		m.setState(StateClosed)
	}
}

// handleSubmit forwards a color to the open connection.
func (m *Manager) handleSubmit(e submitIntent) {
	if m.conn == nil || m.state != StateOpen {
		m.logger.Warn("cannot submit color", "state", m.state, "error", ErrNotConnected)
		e.reply <- ErrNotConnected
		return
	}

	payload, err := json.Marshal(e.color)
	if err != nil {
		e.reply <- fmt.Errorf("encode color: %w", err)
		return
	}

	// The write runs off the loop; a slow peer only delays this caller.
	conn := m.conn
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := conn.Send(payload); err != nil {
			m.logger.Warn("send failed", "conn_id", conn.ID(), "error", err)
			e.reply <- fmt.Errorf("send color: %w", err)
			return
		}
		m.logger.Debug("color submitted", "conn_id", conn.ID(), "color", e.color)
		e.reply <- nil
	}()
}

// handleCloseIntent tears the session down on user request.
func (m *Manager) handleCloseIntent() {
	m.abandonAttempt()
	m.closeExisting()
	m.setState(closedOnExit(m.state))
}

// closeExisting closes and forgets the owned connection. No-op when none.
func (m *Manager) closeExisting() {
	if m.conn == nil {
		return
	}
	c := m.conn
	m.conn = nil

	if err := c.Close(); err != nil {
		m.logger.Debug("close failed", "conn_id", c.ID(), "error", err)
	}
	m.logger.Info("closed existing connection", "conn_id", c.ID())
}

// abandonAttempt cancels any token request or dial in flight; its result
// will be recognised as stale.
func (m *Manager) abandonAttempt() {
	if m.cancelAttempt == nil {
		return
	}
	m.cancelAttempt()
	m.cancelAttempt = nil
	m.attempt++
}

func (m *Manager) setState(s State) {
	if m.state == s {
		return
	}
	m.logger.Debug("session state", "from", m.state, "to", s)
	m.state = s
}

func (m *Manager) publish() {
	st := m.status()
	m.snapMu.Lock()
	m.snap = st
	m.snapMu.Unlock()
}

func (m *Manager) status() Status {
	st := Status{
		State:    m.state,
		UserName: m.userName,
		ClientID: m.clientID,
	}
	if m.conn != nil {
		st.ConnID = m.conn.ID()
	}
	return st
}

// initializeHandler runs Initialize; a panicking handler must not take the
// event loop down.
func (m *Manager) initializeHandler() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("handler panicked during initialize", "panic", r)
		}
	}()
	m.handler.Initialize()
}

// handleMessage runs HandleMessage, converting a panic into an error.
func (m *Manager) handleMessage(data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return m.handler.HandleMessage(data)
}

// pump forwards one connection's frames into the event loop, followed by
// an error event (transport failures only) and a close event.
func (m *Manager) pump(c connection.Client) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return

		case msg := <-c.Messages():
			if !m.post(transportEvent{client: c, kind: transportMessage, data: msg.Data, at: msg.ReceivedAt}) {
				return
			}

		case err := <-c.Errors():
			// Frames read before the failure go first.
			if !m.drain(c) {
				return
			}
			if !connection.IsCloseError(err) {
				if !m.post(transportEvent{client: c, kind: transportError, err: err}) {
					return
				}
			}
			c.Close()
			m.post(transportEvent{client: c, kind: transportClose, err: err})
			return

		case <-c.Done():
			m.post(transportEvent{client: c, kind: transportClose})
			return
		}
	}
}

// drain forwards frames already buffered by c.
func (m *Manager) drain(c connection.Client) bool {
	for {
		select {
		case msg := <-c.Messages():
			if !m.post(transportEvent{client: c, kind: transportMessage, data: msg.Data, at: msg.ReceivedAt}) {
				return false
			}
		default:
			return true
		}
	}
}

// closedOnExit maps the state at shutdown to the state after teardown.
func closedOnExit(s State) State {
	switch s {
	case StateAwaitingToken:
		return StateIdle
	case StateConnecting, StateOpen:
		return StateClosed
	}
	return s
}

type nopUI struct{}

func (nopUI) ShowNotice(string) {}
func (nopUI) Alert(error)       {}
func (nopUI) ShowColorForm()    {}
