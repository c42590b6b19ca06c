package gateway

import (
	"time"

	"github.com/flemzord/roundtable/internal/security"
)

// Config holds HTTP gateway configuration.
type Config struct {
	Bind      string                   `yaml:"bind"`
	Auth      AuthConfig               `yaml:"auth"`
	RateLimit security.RateLimitConfig `yaml:"rate_limit"`

	// AuditLog is a file that receives one JSON line per security event.
	// Empty writes audit events to the process logger only.
	AuditLog string `yaml:"audit_log"`

	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// defaults fills zero values with sensible defaults.
func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8080"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = security.DefaultMaxBodySize
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	// Roundtable calls stream for as long as the slowest backend.
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Minute
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// AuthConfig configures authentication for the /v1 endpoints.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token"`
}

// IsConfigured returns true if a token is set.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != ""
}
