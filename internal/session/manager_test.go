package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/pixel-canvas/internal/token"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type harness struct {
	m       *Manager
	tokens  *fakeTokens
	dialer  *fakeDialer
	handler *fakeHandler
	ui      *fakeUI
	logs    *logBuffer
}

func newHarness(t *testing.T, tokens *fakeTokens, dialer *fakeDialer) *harness {
	t.Helper()
	if tokens == nil {
		tokens = &fakeTokens{}
	}
	if dialer == nil {
		dialer = &fakeDialer{}
	}
	h := &harness{
		tokens:  tokens,
		dialer:  dialer,
		handler: &fakeHandler{fail: "bad", panic: "explode"},
		ui:      &fakeUI{},
		logs:    &logBuffer{},
	}
	logger := slog.New(slog.NewTextHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h.m = New(DefaultConfig(), tokens, dialer, h.handler, h.ui, logger)

	require.NoError(t, h.m.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		h.m.Stop(ctx)
	})
	return h
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.m.State() == want }, waitFor, tick,
		"state %s, want %s", h.m.State(), want)
}

func (h *harness) register(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, h.m.RegisterUser(context.Background(), name))
}

func TestRegisterUser_RejectsShortNames(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"two chars", "ab"},
		{"padded", "   ab   "},
		{"whitespace", "      "},
		{"two runes", "çã"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil, nil)

			err := h.m.RegisterUser(context.Background(), tt.input)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "name", verr.Field)
			assert.Empty(t, h.tokens.Requests())
			assert.Equal(t, StateIdle, h.m.State())

			notices := h.ui.Notices()
			require.Len(t, notices, 1)
			assert.Contains(t, notices[0], "3")
		})
	}
}

func TestRegisterUser_ValidNameClearsNotice(t *testing.T) {
	h := newHarness(t, nil, nil)

	require.Error(t, h.m.RegisterUser(context.Background(), "ab"))
	h.register(t, "abc")

	notices := h.ui.Notices()
	require.Len(t, notices, 2)
	assert.Empty(t, notices[1])
}

func TestRegisterUser_RequestsOneTokenPerCall(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.register(t, "  Ana  ")
	h.waitState(t, StateOpen)
	h.register(t, "Ana")
	require.Eventually(t, func() bool { return len(h.dialer.URLs()) == 2 }, waitFor, tick)
	h.waitState(t, StateOpen)

	reqs := h.tokens.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "Ana", reqs[0].UserName)
	assert.Equal(t, "Ana", reqs[1].UserName)
	assert.NotEmpty(t, reqs[0].UserID)
	assert.NotEmpty(t, reqs[1].UserID)
	assert.NotEqual(t, reqs[0].UserID, reqs[1].UserID)

	assert.Equal(t, reqs[1].UserID, h.m.Snapshot().ClientID)
}

func TestRegisterUser_DialsWithToken(t *testing.T) {
	tokens := &fakeTokens{
		respond: func(context.Context, int, token.Request) (*token.Response, error) {
			return &token.Response{Token: "abc123"}, nil
		},
	}
	h := newHarness(t, tokens, nil)

	h.register(t, "Ana")
	h.waitState(t, StateOpen)

	urls := h.dialer.URLs()
	require.Len(t, urls, 1)
	assert.Equal(t, "ws://localhost:9000/wsGrid?otp=abc123", urls[0])
	assert.Equal(t, 1, h.ui.ColorForms())
	assert.Equal(t, 1, h.handler.Inits())

	st := h.m.Snapshot()
	assert.Equal(t, "Ana", st.UserName)
	assert.Equal(t, h.dialer.last().ID(), st.ConnID)
}

func TestRegisterUser_TokenFailure(t *testing.T) {
	tests := []struct {
		name string
		resp *token.Response
		err  error
	}{
		{"server error", nil, &token.RequestError{StatusCode: 500, Message: "unexpected status"}},
		{"missing token", &token.Response{}, nil},
		{"nil response", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := &fakeTokens{
				respond: func(context.Context, int, token.Request) (*token.Response, error) {
					return tt.resp, tt.err
				},
			}
			h := newHarness(t, tokens, nil)

			h.register(t, "Ana")
			require.Eventually(t, func() bool { return len(h.ui.Alerts()) == 1 }, waitFor, tick)
			h.waitState(t, StateIdle)

			var rerr *token.RequestError
			assert.ErrorAs(t, h.ui.Alerts()[0], &rerr)
			assert.Empty(t, h.dialer.URLs())
		})
	}
}

func TestRegisterUser_DialFailure(t *testing.T) {
	h := newHarness(t, nil, &fakeDialer{err: errors.New("connection refused")})

	h.register(t, "Ana")
	h.waitState(t, StateClosed)

	assert.Equal(t, 0, h.handler.Inits())
	assert.Equal(t, 0, h.ui.ColorForms())
}

func TestCloseExisting_NoConnection(t *testing.T) {
	h := newHarness(t, nil, nil)

	require.NoError(t, h.m.CloseExisting(context.Background()))
	require.NoError(t, h.m.CloseExisting(context.Background()))

	st, err := h.m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, st.State)
	assert.Empty(t, st.ConnID)
}

func TestCloseExisting_ClosesOwnedConnection(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.register(t, "Ana")
	h.waitState(t, StateOpen)
	c := h.dialer.last()

	require.NoError(t, h.m.CloseExisting(context.Background()))

	assert.True(t, c.isClosed())
	assert.Equal(t, StateClosed, h.m.State())
	assert.Empty(t, h.m.Snapshot().ConnID)
}

func TestCloseExisting_AbandonsPendingToken(t *testing.T) {
	release := make(chan struct{})
	tokens := &fakeTokens{
		respond: func(ctx context.Context, _ int, _ token.Request) (*token.Response, error) {
			select {
			case <-release:
				return &token.Response{Token: "late"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	h := newHarness(t, tokens, nil)

	h.register(t, "Ana")
	h.waitState(t, StateAwaitingToken)

	require.NoError(t, h.m.CloseExisting(context.Background()))
	close(release)

	// Flush the loop so the abandoned result has been seen.
	_, err := h.m.Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateIdle, h.m.State())
	assert.Empty(t, h.dialer.URLs())
	assert.Empty(t, h.ui.Alerts())
}

func TestRegisterUser_AtMostOneOpenConnection(t *testing.T) {
	h := newHarness(t, nil, nil)

	for i := 1; i <= 3; i++ {
		h.register(t, "Ana")
		require.Eventually(t, func() bool { return len(h.dialer.Clients()) == i }, waitFor, tick)
		h.waitState(t, StateOpen)
	}

	clients := h.dialer.Clients()
	require.Len(t, clients, 3)

	open := 0
	for _, c := range clients {
		if !c.isClosed() {
			open++
		}
	}
	assert.Equal(t, 1, open)
	assert.False(t, clients[2].isClosed())
	assert.Equal(t, clients[2].ID(), h.m.Snapshot().ConnID)
	assert.Equal(t, 3, h.handler.Inits())
}

func TestReconnect_LateCloseFromSupersededConnection(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.register(t, "Ana")
	h.waitState(t, StateOpen)
	a := h.dialer.last()

	h.register(t, "Ana")
	require.Eventually(t, func() bool { return len(h.dialer.Clients()) == 2 }, waitFor, tick)
	h.waitState(t, StateOpen)
	b := h.dialer.last()
	require.True(t, a.isClosed())

	// A's close and a trailing frame arrive after B is already open.
	h.m.events <- transportEvent{client: a, kind: transportMessage, data: []byte(`{"0":"red"}`)}
	h.m.events <- transportEvent{client: a, kind: transportClose}

	st, err := h.m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateOpen, st.State)
	assert.Equal(t, b.ID(), st.ConnID)
	assert.NotContains(t, h.handler.Messages(), `{"0":"red"}`)

	require.NoError(t, h.m.SubmitColor(context.Background(), "red"))
	assert.Equal(t, []string{`"red"`}, b.Sent())
	assert.Empty(t, a.Sent())
}

func TestStaleTokenResponseDiscarded(t *testing.T) {
	release := make(chan struct{})
	tokens := &fakeTokens{
		respond: func(ctx context.Context, call int, _ token.Request) (*token.Response, error) {
			if call == 1 {
				// Ignores cancellation, answering late.
				<-release
				return &token.Response{Token: "old"}, nil
			}
			return &token.Response{Token: "new"}, nil
		},
	}
	h := newHarness(t, tokens, nil)
	defer func() {
		select {
		case <-release:
		default:
			close(release)
		}
	}()

	h.register(t, "Ana")
	h.waitState(t, StateAwaitingToken)
	h.register(t, "Bea")
	h.waitState(t, StateOpen)

	close(release)
	// Give the late response time to reach the loop.
	time.Sleep(20 * time.Millisecond)
	_, err := h.m.Status(context.Background())
	require.NoError(t, err)

	urls := h.dialer.URLs()
	require.Len(t, urls, 1)
	assert.True(t, strings.HasSuffix(urls[0], "otp=new"))
	assert.Equal(t, "Bea", h.m.Snapshot().UserName)
	assert.Empty(t, h.ui.Alerts())
}

func TestSubmitColor_NotConnected(t *testing.T) {
	h := newHarness(t, nil, nil)

	err := h.m.SubmitColor(context.Background(), "purple")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSubmitColor_AfterClose(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.register(t, "Ana")
	h.waitState(t, StateOpen)
	c := h.dialer.last()
	require.NoError(t, h.m.CloseExisting(context.Background()))

	err := h.m.SubmitColor(context.Background(), "purple")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, c.Sent())
}

func TestSubmitColor_SendsJSONString(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.register(t, "Ana")
	h.waitState(t, StateOpen)

	require.NoError(t, h.m.SubmitColor(context.Background(), "purple"))
	require.NoError(t, h.m.SubmitColor(context.Background(), `#a"b`))

	assert.Equal(t, []string{`"purple"`, `"#a\"b"`}, h.dialer.last().Sent())
}

func TestSubmitColor_SlowPeerDoesNotStallLoop(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.register(t, "Ana")
	h.waitState(t, StateOpen)
	c := h.dialer.last()
	release := c.stallSends()

	submitted := make(chan error, 1)
	go func() { submitted <- h.m.SubmitColor(context.Background(), "purple") }()
	require.Eventually(t, func() bool { return c.sending.Load() == 1 }, waitFor, tick)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	st, err := h.m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, st.State)

	c.push(`{"0":"red"}`)
	require.Eventually(t, func() bool { return len(h.handler.Messages()) == 1 }, waitFor, tick)

	select {
	case err := <-submitted:
		t.Fatalf("SubmitColor returned before the write finished: %v", err)
	default:
	}

	release()
	select {
	case err := <-submitted:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("SubmitColor did not return")
	}
	assert.Equal(t, []string{`"purple"`}, c.Sent())
}

func TestMessages_DeliveredInOrder(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.register(t, "Ana")
	h.waitState(t, StateOpen)
	c := h.dialer.last()

	c.push(`{"0":"red"}`)
	c.push("bad")
	c.push("explode")
	c.push(`{"1":"blue"}`)

	require.Eventually(t, func() bool { return len(h.handler.Messages()) == 3 }, waitFor, tick)
	assert.Equal(t, []string{`{"0":"red"}`, "bad", `{"1":"blue"}`}, h.handler.Messages())
	assert.Equal(t, StateOpen, h.m.State())

	require.Eventually(t, func() bool {
		return strings.Count(h.logs.String(), `msg="message received"`) == 4
	}, waitFor, tick)
	logs := h.logs.String()
	assert.Contains(t, logs, "lag=")
	assert.Equal(t, 2, strings.Count(logs, `msg="discarding message"`))
	assert.Contains(t, logs, `rejected \"bad\"`)
	assert.Contains(t, logs, "handler panicked: boom")
}

func TestServerClose(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"close frame", &websocket.CloseError{Code: websocket.CloseGoingAway}},
		{"transport error", io.ErrUnexpectedEOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil, nil)

			h.register(t, "Ana")
			h.waitState(t, StateOpen)
			c := h.dialer.last()

			c.push(`{"4":"red"}`)
			c.errs <- tt.err

			h.waitState(t, StateClosed)
			assert.Equal(t, []string{`{"4":"red"}`}, h.handler.Messages())
			assert.True(t, c.isClosed())
			assert.Empty(t, h.m.Snapshot().ConnID)
		})
	}
}

func TestStop_ClosesConnection(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.register(t, "Ana")
	h.waitState(t, StateOpen)
	c := h.dialer.last()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.m.Stop(ctx))

	assert.True(t, c.isClosed())
	assert.Equal(t, StateClosed, h.m.State())

	assert.ErrorIs(t, h.m.RegisterUser(context.Background(), "Ana"), ErrStopped)
	assert.ErrorIs(t, h.m.SubmitColor(context.Background(), "red"), ErrStopped)
}

func TestStart_Twice(t *testing.T) {
	h := newHarness(t, nil, nil)
	assert.Error(t, h.m.Start(context.Background()))
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateAwaitingToken, "awaiting_token"},
		{StateConnecting, "connecting"},
		{StateOpen, "open"},
		{StateClosed, "closed"},
		{State(42), "state(42)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	dialer := &fakeDialer{}
	m := New(DefaultConfig(), &fakeTokens{}, dialer, &fakeHandler{}, &fakeUI{},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- m.Run(ctx) }()

	require.NoError(t, m.RegisterUser(context.Background(), "Ana"))
	require.Eventually(t, func() bool { return m.State() == StateOpen }, waitFor, tick)

	st, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateOpen, st.State)
	assert.Equal(t, "Ana", st.UserName)
	assert.NotEmpty(t, st.ClientID)
	assert.Equal(t, m.Snapshot().ConnID, st.ConnID)

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run did not return after cancel")
	}

	assert.True(t, dialer.last().isClosed())
	_, err = m.Status(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}
