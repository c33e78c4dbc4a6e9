// Package session implements the Session Manager: it turns a display name
// into exactly one live, token-authenticated stream connection and forwards
// color submissions onto it.
//
// All state lives on one event-loop goroutine (Run). User intents
// (RegisterUser, SubmitColor, CloseExisting) and transport events (open,
// message, error, close) are processed there one at a time, in arrival
// order. Token requests and dials run off-loop and report back as events.
//
// State machine:
//
//	Idle -> AwaitingToken -> Connecting -> Open -> Closed
//
// Closed is reachable from Connecting and Open. RegisterUser restarts from
// any state, tearing the current connection down first. At most one
// connection is ever owned; events from a superseded connection are
// ignored.
package session
