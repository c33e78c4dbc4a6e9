package config

import "time"

// ClientConfig is the root configuration for a canvas client.
type ClientConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Connection ConnectionConfig `yaml:"connection"`
	Grid       GridConfig       `yaml:"grid"`
	Journal    JournalConfig    `yaml:"journal"`
}

// ServerConfig locates the canvas server.
type ServerConfig struct {
	Host      string        `yaml:"host"`       // host:port, no scheme
	Secure    bool          `yaml:"secure"`     // https/wss instead of http/ws
	Endpoint  string        `yaml:"endpoint"`   // "wsGrid" or "wsNotificacao"
	TokenPath string        `yaml:"token_path"` // Derived from Endpoint when empty
	Timeout   time.Duration `yaml:"timeout"`    // Token request timeout
}

// ConnectionConfig holds websocket settings.
type ConnectionConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PingTimeout      time.Duration `yaml:"ping_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	BufferSize       int           `yaml:"buffer_size"`
}

// GridConfig describes the canvas as agreed with the server.
type GridConfig struct {
	Size         int    `yaml:"size"`
	DefaultColor string `yaml:"default_color"`
}

// JournalConfig controls the optional pixel change journal.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Table         string        `yaml:"table"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	Database      DBConfig      `yaml:"database"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// HTTPBaseURL returns the base URL of the token service.
func (s ServerConfig) HTTPBaseURL() string {
	if s.Secure {
		return "https://" + s.Host
	}
	return "http://" + s.Host
}

// WSScheme returns the websocket scheme matching Secure.
func (s ServerConfig) WSScheme() string {
	if s.Secure {
		return "wss"
	}
	return "ws"
}
