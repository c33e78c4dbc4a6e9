package connection

import (
	"context"
	"log/slog"
	"net/url"
)

// Dialer opens authenticated stream connections for one endpoint.
type Dialer struct {
	cfg    ClientConfig
	logger *slog.Logger
}

// NewDialer creates a Dialer. cfg.URL is ignored; each Dial supplies its own.
func NewDialer(cfg ClientConfig, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{cfg: cfg, logger: logger}
}

// Dial connects to rawURL and returns the live client.
func (d *Dialer) Dial(ctx context.Context, rawURL string) (Client, error) {
	cfg := d.cfg
	cfg.URL = rawURL

	c := NewClient(cfg, d.logger)
	if err := c.Connect(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// StreamURL builds scheme://host/endpoint?otp=token.
func StreamURL(scheme, host, endpoint, token string) string {
	u := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     "/" + endpoint,
		RawQuery: url.Values{"otp": {token}}.Encode(),
	}
	return u.String()
}

// redactOTP hides the token in logged URLs.
func redactOTP(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if q.Has("otp") {
		q.Set("otp", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
