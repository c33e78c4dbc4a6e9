// Package token requests one-time stream tokens from the canvas server.
//
// The token service pairs with a stream endpoint by name:
//   - POST /getTokenWsGrid        -> token for /wsGrid
//   - POST /getTokenWsNotificacao -> token for /wsNotificacao
//
// Tokens are single use and expire shortly after issue, so a request is
// never retried: each registration issues exactly one request.
package token
