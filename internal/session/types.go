package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/pixel-canvas/internal/connection"
	"github.com/rickgao/pixel-canvas/internal/token"
)

// State is the lifecycle state of a session.
type State int

const (
	StateIdle State = iota
	StateAwaitingToken
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingToken:
		return "awaiting_token"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Errors
var (
	ErrNotConnected = errors.New("no open connection")
	ErrStopped      = errors.New("session manager stopped")
)

// ValidationError reports a registration rejected before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Handler consumes a stream. Initialize runs once per opened connection,
// before any HandleMessage call for it.
type Handler interface {
	Initialize()
	HandleMessage(data []byte) error
}

// UI receives the user-visible effects of the session.
type UI interface {
	// ShowNotice shows inline feedback; an empty message clears it.
	ShowNotice(msg string)

	// Alert reports a failure the user must acknowledge.
	Alert(err error)

	// ShowColorForm switches from registration to color submission.
	ShowColorForm()
}

// TokenRequester issues token requests.
type TokenRequester interface {
	RequestToken(ctx context.Context, r token.Request) (*token.Response, error)
}

// Dialer opens stream connections.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (connection.Client, error)
}

// Config configures a Manager.
type Config struct {
	Scheme        string        // "ws" or "wss"
	Host          string        // host:port of the stream endpoint
	Endpoint      string        // e.g. "wsGrid"
	MinNameLength int           // Minimum trimmed name length in runes
	TokenTimeout  time.Duration // Limit for one token request
	DialTimeout   time.Duration // Limit for one dial
	EventBuffer   int           // Event queue size
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Scheme:        "ws",
		Host:          "localhost:9000",
		Endpoint:      "wsGrid",
		MinNameLength: 3,
		TokenTimeout:  10 * time.Second,
		DialTimeout:   10 * time.Second,
		EventBuffer:   256,
	}
}

// Status is a point-in-time view of a session.
type Status struct {
	State    State
	UserName string
	ClientID string
	ConnID   string
}
