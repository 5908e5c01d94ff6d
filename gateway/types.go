package gateway

import (
	"fmt"
	"time"

	"github.com/c360/mathgate/errors"
	"github.com/c360/mathgate/pkg/tlsutil"
)

// Size limits for request bodies
const (
	DefaultMaxRequestSize int64 = 1024 * 1024
	maxRequestSizeLimit   int64 = 100 * 1024 * 1024
)

// Config holds the HTTP surface configuration
type Config struct {
	// Addr is the listen address (default ":9000")
	Addr string `json:"addr" mapstructure:"addr"`

	// MaxRequestSize limits request body size in bytes (default: 1MB)
	MaxRequestSize int64 `json:"max_request_size" mapstructure:"max_request_size"`

	// StartRateLimit is the sustained /start rate in requests per second; 0 disables limiting
	StartRateLimit float64 `json:"start_rate_limit" mapstructure:"start_rate_limit"`

	// StartBurst is the token bucket size for /start
	StartBurst int `json:"start_burst" mapstructure:"start_burst"`

	ReadHeaderTimeout time.Duration `json:"read_header_timeout" mapstructure:"read_header_timeout"`

	// ShutdownTimeout bounds graceful shutdown; in-flight polls are cancelled after it
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`

	TLS tlsutil.ServerConfig `json:"tls" mapstructure:"tls"`
}

// Validate ensures the gateway configuration is valid, filling zero sizes with defaults
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"addr cannot be empty")
	}

	if c.MaxRequestSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot be negative")
	}
	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = DefaultMaxRequestSize
	}
	if c.MaxRequestSize > maxRequestSizeLimit {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot exceed 100MB")
	}

	if c.StartRateLimit < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("start_rate_limit cannot be negative: %v", c.StartRateLimit))
	}
	if c.StartRateLimit > 0 && c.StartBurst < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"start_burst must be at least 1 when start_rate_limit is set")
	}

	if c.ReadHeaderTimeout < 0 || c.ShutdownTimeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"timeouts cannot be negative")
	}

	return c.TLS.Validate()
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() Config {
	return Config{
		Addr:              ":9000",
		MaxRequestSize:    DefaultMaxRequestSize,
		StartRateLimit:    0, // disabled
		StartBurst:        10,
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   10 * time.Second,
	}
}
