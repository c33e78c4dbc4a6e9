package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxBodySize bounds how much of a response is read.
const maxBodySize = 1 << 20

// RequestToken issues a single token request. Every failure, including a
// response without a token, is returned as *RequestError.
func (c *Client) RequestToken(ctx context.Context, r Request) (*Response, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, &RequestError{Message: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(), bytes.NewReader(payload))
	if err != nil {
		return nil, &RequestError{Message: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("requesting token", "url", c.URL(), "user", r.UserName, "user_id", r.UserID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RequestError{Message: "do request", Err: fmt.Errorf("do request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &RequestError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			Body:       body,
			Err:        fmt.Errorf("unmarshal response: %w", err),
		}
	}

	if out.Token == "" {
		return nil, &RequestError{StatusCode: resp.StatusCode, Body: body, Err: ErrMissingToken}
	}
	if !out.ExpiresAt.IsZero() && !out.ExpiresAt.After(c.now()) {
		return nil, &RequestError{StatusCode: resp.StatusCode, Body: body, Err: ErrExpiredToken}
	}

	c.logger.Debug("token received", "expires_at", out.ExpiresAt)

	return &out, nil
}
