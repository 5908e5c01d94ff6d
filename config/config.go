package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/c360/mathgate/correlation"
	"github.com/c360/mathgate/errors"
	"github.com/c360/mathgate/gateway"
	"github.com/c360/mathgate/pkg/tlsutil"
	"github.com/c360/mathgate/watchdog"
)

// Persistence backend names
const (
	BackendFile = "file"
	BackendKV   = "kv"
)

// Config represents the complete application configuration
type Config struct {
	HTTP        gateway.Config    `json:"http" mapstructure:"http"`
	NATS        NATSConfig        `json:"nats" mapstructure:"nats"`
	Watchdog    WatchdogConfig    `json:"watchdog" mapstructure:"watchdog"`
	Bridge      BridgeConfig      `json:"bridge" mapstructure:"bridge"`
	Persistence PersistenceConfig `json:"persistence" mapstructure:"persistence"`
	Metrics     MetricsConfig     `json:"metrics" mapstructure:"metrics"`
	Log         LogConfig         `json:"log" mapstructure:"log"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URL             string        `json:"url" mapstructure:"url"`
	Name            string        `json:"name" mapstructure:"name"`
	MaxReconnects   int           `json:"max_reconnects" mapstructure:"max_reconnects"`
	ReconnectWait   time.Duration `json:"reconnect_wait" mapstructure:"reconnect_wait"`
	ConnectTimeout  time.Duration `json:"connect_timeout" mapstructure:"connect_timeout"`
	ConnectAttempts int           `json:"connect_attempts" mapstructure:"connect_attempts"`
	Username        string        `json:"username,omitempty" mapstructure:"username"`
	Password        string        `json:"password,omitempty" mapstructure:"password"`
	Token           string        `json:"token,omitempty" mapstructure:"token"`

	TLS tlsutil.ClientConfig `json:"tls" mapstructure:"tls"`
}

// WatchdogConfig defines how backend liveness is detected
type WatchdogConfig struct {
	Subject string        `json:"subject" mapstructure:"subject"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// BridgeConfig tunes the request/response orchestrator
type BridgeConfig struct {
	PollInterval time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
}

// PersistenceConfig selects where correlation state survives restarts
type PersistenceConfig struct {
	Backend  string `json:"backend" mapstructure:"backend"`
	Path     string `json:"path" mapstructure:"path"`
	KVBucket string `json:"kv_bucket" mapstructure:"kv_bucket"`
}

// MetricsConfig defines the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
	Path string `json:"path" mapstructure:"path"`
}

// LogConfig defines logging. An empty Dir disables the file sink.
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"`
	Dir    string `json:"dir" mapstructure:"dir"`
}

// Default returns the configuration used when nothing overrides it
func Default() Config {
	return Config{
		HTTP: gateway.DefaultConfig(),
		NATS: NATSConfig{
			URL:             "nats://localhost:4222",
			Name:            "mathgate",
			MaxReconnects:   -1,
			ReconnectWait:   2 * time.Second,
			ConnectTimeout:  5 * time.Second,
			ConnectAttempts: errors.DefaultRetryConfig().MaxRetries + 1,
		},
		Watchdog: WatchdogConfig{
			Subject: watchdog.DefaultSubject,
			Timeout: watchdog.DefaultTimeout,
		},
		Bridge: BridgeConfig{
			PollInterval: time.Second,
		},
		Persistence: PersistenceConfig{
			Backend:  BackendFile,
			Path:     correlation.DefaultSnapshotFile,
			KVBucket: correlation.DefaultKVBucket,
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Dir:    "logs",
		},
	}
}

func invalid(msg string) error {
	return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", msg)
}

// Validate checks the configuration and normalizes enum fields to lower case
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "http")
	}

	if c.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "nats.url is required")
	}
	if c.NATS.ReconnectWait < 0 {
		return invalid("nats.reconnect_wait cannot be negative")
	}
	if c.NATS.ConnectTimeout <= 0 {
		return invalid("nats.connect_timeout must be positive")
	}
	if c.NATS.ConnectAttempts < 1 {
		return invalid("nats.connect_attempts must be at least 1")
	}
	if c.NATS.Token != "" && c.NATS.Username != "" {
		return invalid("nats.token and nats.username are mutually exclusive")
	}
	if err := c.NATS.TLS.Validate(); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "nats.tls")
	}

	if !isValidSubject(c.Watchdog.Subject) {
		return invalid(fmt.Sprintf("watchdog.subject %q is not a valid NATS subject", c.Watchdog.Subject))
	}
	if c.Watchdog.Timeout <= 0 {
		return invalid("watchdog.timeout must be positive")
	}

	if c.Bridge.PollInterval <= 0 {
		return invalid("bridge.poll_interval must be positive")
	}
	if c.Bridge.PollInterval > c.Watchdog.Timeout {
		return invalid("bridge.poll_interval cannot exceed watchdog.timeout")
	}

	c.Persistence.Backend = strings.ToLower(c.Persistence.Backend)
	switch c.Persistence.Backend {
	case BackendFile:
		if c.Persistence.Path == "" {
			return invalid("persistence.path is required for the file backend")
		}
	case BackendKV:
		if c.Persistence.KVBucket == "" {
			return invalid("persistence.kv_bucket is required for the kv backend")
		}
	default:
		return invalid(fmt.Sprintf("unknown persistence.backend %q", c.Persistence.Backend))
	}

	if c.Metrics.Addr != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		return invalid("metrics.path must start with /")
	}
	if c.Metrics.Addr != "" && c.Metrics.Addr == c.HTTP.Addr {
		return invalid("metrics.addr must differ from http.addr")
	}

	c.Log.Level = strings.ToLower(c.Log.Level)
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	c.Log.Format = strings.ToLower(c.Log.Format)
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid(fmt.Sprintf("unknown log.format %q", c.Log.Format))
	}

	return nil
}

// ParseLevel maps a level name onto slog.Level
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, invalid(fmt.Sprintf("unknown log.level %q", level))
	}
}

// isValidSubject accepts dot-separated tokens of letters, digits, '-' and '_',
// plus the '*' and trailing '>' wildcards.
func isValidSubject(s string) bool {
	if s == "" {
		return false
	}
	tokens := strings.Split(s, ".")
	for i, tok := range tokens {
		switch {
		case tok == "":
			return false
		case tok == "*":
			continue
		case tok == ">":
			if i != len(tokens)-1 {
				return false
			}
			continue
		}
		for _, r := range tok {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
				return false
			}
		}
	}
	return true
}

// String returns a JSON representation with secrets redacted
func (c Config) String() string {
	if c.NATS.Password != "" {
		c.NATS.Password = "[REDACTED]"
	}
	if c.NATS.Token != "" {
		c.NATS.Token = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
