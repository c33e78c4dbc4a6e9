package config

import (
	"strings"
	"time"
	"unicode"
)

// Default values for optional configuration fields.
const (
	DefaultHost             = "localhost:9000"
	DefaultEndpoint         = "wsGrid"
	DefaultTokenTimeout     = 10 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultPingTimeout      = 90 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultBufferSize       = 256
	DefaultGridSize         = 25
	DefaultColor            = "aqua"
	DefaultJournalTable     = "pixel_changes"
	DefaultBatchSize        = 500
	DefaultFlushInterval    = 1 * time.Second
	DefaultJournalBuffer    = 10000
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 4
	DefaultMinConns         = 1
)

// ApplyDefaults fills every unset optional field.
func (c *ClientConfig) ApplyDefaults() {
	// Server defaults
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Endpoint == "" {
		c.Server.Endpoint = DefaultEndpoint
	}
	c.Server.Endpoint = strings.Trim(c.Server.Endpoint, "/")
	if c.Server.TokenPath == "" {
		c.Server.TokenPath = TokenPathFor(c.Server.Endpoint)
	}
	if !strings.HasPrefix(c.Server.TokenPath, "/") {
		c.Server.TokenPath = "/" + c.Server.TokenPath
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = DefaultTokenTimeout
	}

	// Connection defaults
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.PingTimeout == 0 {
		c.Connection.PingTimeout = DefaultPingTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.BufferSize == 0 {
		c.Connection.BufferSize = DefaultBufferSize
	}

	// Grid defaults
	if c.Grid.Size == 0 {
		c.Grid.Size = DefaultGridSize
	}
	if c.Grid.DefaultColor == "" {
		c.Grid.DefaultColor = DefaultColor
	}

	// Journal defaults
	if c.Journal.Table == "" {
		c.Journal.Table = DefaultJournalTable
	}
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultJournalBuffer
	}
	applyDBDefaults(&c.Journal.Database)
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

// TokenPathFor derives the token path paired with a stream endpoint:
// "wsGrid" is served by "/getTokenWsGrid".
func TokenPathFor(endpoint string) string {
	endpoint = strings.Trim(endpoint, "/")
	if endpoint == "" {
		return "/getToken"
	}
	r := []rune(endpoint)
	r[0] = unicode.ToUpper(r[0])
	return "/getToken" + string(r)
}
