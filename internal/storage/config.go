package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/migrator-io/migrator/internal/config"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 10 * time.Minute
)

// ErrDatabaseURLEmpty is returned when the database url is an empty string.
var ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")

// Config holds database connection configuration.
type Config struct {
	databaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadConfig loads database configuration from environment variables with
// fallback to defaults. DATABASE_URL selects the backend by scheme:
// postgres:// for PostgreSQL, sqlite:// (or a bare file path) for SQLite.
func LoadConfig() *Config {
	return &Config{
		databaseURL:     config.GetEnvStr("DATABASE_URL", ""), // kept private: it may carry credentials
		MaxOpenConns:    config.GetEnvInt("DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns),
		MaxIdleConns:    config.GetEnvInt("DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns),
		ConnMaxLifetime: config.GetEnvDuration("DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
		ConnMaxIdleTime: config.GetEnvDuration("DATABASE_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime),
	}
}

// NewConfig builds a config for an explicit database URL, keeping the pool
// defaults. Used by the CLI and tests.
func NewConfig(databaseURL string) *Config {
	cfg := LoadConfig()
	cfg.databaseURL = databaseURL

	return cfg
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.databaseURL) == "" {
		return ErrDatabaseURLEmpty
	}

	if _, _, err := parseDSN(c.databaseURL); err != nil {
		return err
	}

	return nil
}

// MaskDatabaseURL returns the database URL with userinfo credentials
// replaced, safe for logging.
func (c *Config) MaskDatabaseURL() string {
	url := c.databaseURL

	schemeEnd := strings.Index(url, "://")
	if schemeEnd == -1 {
		return url
	}

	rest := url[schemeEnd+3:]

	at := strings.LastIndex(rest, "@")
	if at == -1 {
		return url
	}

	return url[:schemeEnd+3] + "***@" + rest[at+1:]
}
