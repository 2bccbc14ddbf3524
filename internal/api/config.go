// Package api provides the HTTP surface of the migrator service: export
// submission, task polling, exception queries, health probes, and metrics.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/migrator-io/migrator/internal/config"
)

const (
	// DefaultPort is the default HTTP server port.
	DefaultPort = 8080
	// MaxPort is the maximum valid port number.
	MaxPort = 65535
	// DefaultHost is the default server host.
	DefaultHost = "0.0.0.0"
	// DefaultTimeout is the default timeout for HTTP operations.
	DefaultTimeout = 30 * time.Second
	// DefaultCORSMaxAge is the default CORS preflight cache age.
	DefaultCORSMaxAge = 86400
	// DefaultRateLimitRPS is the default sustained request rate.
	DefaultRateLimitRPS = 50
)

// Static validation errors.
var (
	ErrInvalidPort            = errors.New("invalid port")
	ErrEmptyHost              = errors.New("host cannot be empty")
	ErrInvalidReadTimeout     = errors.New("read timeout must be positive")
	ErrInvalidWriteTimeout    = errors.New("write timeout must be positive")
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")
)

// ServerConfig holds HTTP server configuration. Dependencies (stores,
// services) are injected into NewServer separately; this struct is pure
// configuration.
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	LogLevel        slog.Level

	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	CORSAllowedHeaders []string
	CORSMaxAge         int

	// APIKeyHashes maps key IDs to bcrypt hashes, parsed from
	// MIGRATOR_API_KEYS ("id:hash,id:hash"). Empty disables auth.
	APIKeyHashes map[string]string

	// RateLimitRPS is the sustained request rate; 0 disables limiting.
	RateLimitRPS int
}

// LoadServerConfig loads server configuration from environment variables
// with sensible defaults.
func LoadServerConfig() *ServerConfig {
	cfg := &ServerConfig{
		Port:            config.GetEnvInt("MIGRATOR_PORT", DefaultPort),
		Host:            config.GetEnvStr("MIGRATOR_HOST", DefaultHost),
		ReadTimeout:     config.GetEnvDuration("MIGRATOR_READ_TIMEOUT", DefaultTimeout),
		WriteTimeout:    config.GetEnvDuration("MIGRATOR_WRITE_TIMEOUT", DefaultTimeout),
		ShutdownTimeout: config.GetEnvDuration("MIGRATOR_SHUTDOWN_TIMEOUT", DefaultTimeout),
		LogLevel:        config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),

		CORSAllowedOrigins: config.ParseCommaSeparatedList(config.GetEnvStr("MIGRATOR_CORS_ORIGINS", "*")),
		CORSAllowedMethods: []string{"GET", "POST", "OPTIONS"},
		CORSAllowedHeaders: []string{"Content-Type", "Authorization", "X-Correlation-ID", "X-Api-Key"},
		CORSMaxAge:         config.GetEnvInt("MIGRATOR_CORS_MAX_AGE", DefaultCORSMaxAge),

		APIKeyHashes: parseAPIKeys(config.GetEnvStr("MIGRATOR_API_KEYS", "")),
		RateLimitRPS: config.GetEnvInt("MIGRATOR_RATE_LIMIT_RPS", DefaultRateLimitRPS),
	}

	return cfg
}

// parseAPIKeys parses "id:bcrypt-hash" pairs separated by commas. Bcrypt
// hashes contain no commas or colons beyond the "$" sections, so the first
// colon splits ID from hash.
func parseAPIKeys(raw string) map[string]string {
	if raw == "" {
		return nil
	}

	hashes := make(map[string]string)

	for _, pair := range strings.Split(raw, ",") {
		id, hash, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || id == "" || hash == "" {
			continue
		}

		hashes[id] = hash
	}

	if len(hashes) == 0 {
		return nil
	}

	return hashes
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > MaxPort {
		return fmt.Errorf("%w: %d, must be between 1 and %d", ErrInvalidPort, c.Port, MaxPort)
	}

	if c.Host == "" {
		return ErrEmptyHost
	}

	if c.ReadTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidReadTimeout, c.ReadTimeout)
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidWriteTimeout, c.WriteTimeout)
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidShutdownTimeout, c.ShutdownTimeout)
	}

	return nil
}

// CORSConfig holds the CORS policy handed to the middleware.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

// ToCORSConfig converts the server configuration's CORS fields.
func (c *ServerConfig) ToCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: c.CORSAllowedOrigins,
		AllowedMethods: c.CORSAllowedMethods,
		AllowedHeaders: c.CORSAllowedHeaders,
		MaxAge:         c.CORSMaxAge,
	}
}

// GetAllowedOrigins returns the allowed origins for CORS.
func (c CORSConfig) GetAllowedOrigins() []string {
	return c.AllowedOrigins
}

// GetAllowedMethods returns the allowed methods for CORS.
func (c CORSConfig) GetAllowedMethods() []string {
	return c.AllowedMethods
}

// GetAllowedHeaders returns the allowed headers for CORS.
func (c CORSConfig) GetAllowedHeaders() []string {
	return c.AllowedHeaders
}

// GetMaxAge returns the preflight cache age for CORS.
func (c CORSConfig) GetMaxAge() int {
	return c.MaxAge
}
