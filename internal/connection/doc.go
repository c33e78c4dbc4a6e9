// Package connection implements the websocket transport for the canvas stream.
//
// A Client owns one gorilla/websocket connection and exposes it as channels:
//   - Messages delivers every text frame in arrival order
//   - Errors delivers the error that ended the read loop (at most one)
//   - Done is closed once Close has been called
//
// The server pings on connect and periodically; the client answers and also
// sends its own keepalive pings, flagging the connection stale when neither
// side has been heard from within PingTimeout.
package connection
