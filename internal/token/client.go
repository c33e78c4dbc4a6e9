package token

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client requests tokens from the canvas token service.
type Client struct {
	baseURL    string
	path       string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a token client for baseURL (scheme://host) and path.
func NewClient(baseURL, path string, opts ...ClientOption) *Client {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		path:    path,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: slog.Default(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// URL returns the full token service URL.
func (c *Client) URL() string {
	return c.baseURL + c.path
}
