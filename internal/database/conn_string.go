package database

import (
	"fmt"
	"net/url"

	"github.com/rickgao/marketsync/internal/config"
)

// BuildConnString builds a PostgreSQL connection URL from config. appName,
// when set, is reported to the server as application_name.
func BuildConnString(cfg config.DBConfig, appName string) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	if appName != "" {
		query.Set("application_name", appName)
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     "/" + cfg.Name,
		RawQuery: query.Encode(),
	}
	return u.String()
}
