package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/pixel-canvas/internal/config"
)

// applicationName tags journal sessions in pg_stat_activity.
const applicationName = "pixelclient"

// BuildConnString builds a PostgreSQL connection URL from cfg.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", applicationName)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
