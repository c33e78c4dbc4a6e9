package token

import (
	"errors"
	"fmt"
	"time"
)

// Request is the token service request body.
type Request struct {
	UserName string `json:"nome_usuario"`
	UserID   string `json:"id_usuario"`
}

// Response is the token service response body.
type Response struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"data_expiracao"`
}

// ErrMissingToken is reported when a successful response carries no token.
var ErrMissingToken = errors.New("response missing token")

// ErrExpiredToken is reported when the issued token is already expired.
var ErrExpiredToken = errors.New("token already expired")

// RequestError describes a failed token request. StatusCode is zero when the
// request never got an HTTP response.
type RequestError struct {
	StatusCode int
	Message    string
	Body       []byte
	Err        error
}

func (e *RequestError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("token request failed: status %d: %v", e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("token request failed: status %d: %s", e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("token request failed: %v", e.Err)
	default:
		return "token request failed: " + e.Message
	}
}

func (e *RequestError) Unwrap() error {
	return e.Err
}
