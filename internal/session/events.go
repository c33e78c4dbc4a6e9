package session

import (
	"time"

	"github.com/rickgao/pixel-canvas/internal/connection"
	"github.com/rickgao/pixel-canvas/internal/token"
)

// event is anything processed by the event loop.
type event interface{}

type registerIntent struct {
	name  string
	reply chan error
}

type submitIntent struct {
	color string
	reply chan error
}

type closeIntent struct {
	reply chan error
}

type statusIntent struct {
	reply chan Status
}

// tokenResult completes the token request of attempt.
type tokenResult struct {
	attempt uint64
	resp    *token.Response
	err     error
}

// dialResult completes the dial of attempt. A nil err is the open event.
type dialResult struct {
	attempt uint64
	client  connection.Client
	err     error
}

type transportKind int

const (
	transportMessage transportKind = iota
	transportError
	transportClose
)

func (k transportKind) String() string {
	switch k {
	case transportMessage:
		return "message"
	case transportError:
		return "error"
	default:
		return "close"
	}
}

// transportEvent is a message, error or close reported by client.
type transportEvent struct {
	client connection.Client
	kind   transportKind
	data   []byte
	at     time.Time // Receive time of a message
	err    error
}
