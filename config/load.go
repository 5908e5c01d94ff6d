package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/c360/mathgate/errors"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "MATHGATE"

const maxConfigSize = 10 << 20 // 10MB

var configExtensions = map[string]bool{
	".json": true,
	".yaml": true,
	".yml":  true,
	".toml": true,
}

// SetDefaults registers Default() in v so every key is known to viper.
// AutomaticEnv only resolves keys viper already knows about.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.max_request_size", d.HTTP.MaxRequestSize)
	v.SetDefault("http.start_rate_limit", d.HTTP.StartRateLimit)
	v.SetDefault("http.start_burst", d.HTTP.StartBurst)
	v.SetDefault("http.read_header_timeout", d.HTTP.ReadHeaderTimeout)
	v.SetDefault("http.shutdown_timeout", d.HTTP.ShutdownTimeout)
	v.SetDefault("http.tls.enabled", d.HTTP.TLS.Enabled)
	v.SetDefault("http.tls.cert_file", d.HTTP.TLS.CertFile)
	v.SetDefault("http.tls.key_file", d.HTTP.TLS.KeyFile)
	v.SetDefault("http.tls.min_version", d.HTTP.TLS.MinVersion)

	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.name", d.NATS.Name)
	v.SetDefault("nats.max_reconnects", d.NATS.MaxReconnects)
	v.SetDefault("nats.reconnect_wait", d.NATS.ReconnectWait)
	v.SetDefault("nats.connect_timeout", d.NATS.ConnectTimeout)
	v.SetDefault("nats.connect_attempts", d.NATS.ConnectAttempts)
	v.SetDefault("nats.username", d.NATS.Username)
	v.SetDefault("nats.password", d.NATS.Password)
	v.SetDefault("nats.token", d.NATS.Token)
	v.SetDefault("nats.tls.enabled", d.NATS.TLS.Enabled)
	v.SetDefault("nats.tls.cert_file", d.NATS.TLS.CertFile)
	v.SetDefault("nats.tls.key_file", d.NATS.TLS.KeyFile)
	v.SetDefault("nats.tls.insecure_skip_verify", d.NATS.TLS.InsecureSkipVerify)
	v.SetDefault("nats.tls.min_version", d.NATS.TLS.MinVersion)

	v.SetDefault("watchdog.subject", d.Watchdog.Subject)
	v.SetDefault("watchdog.timeout", d.Watchdog.Timeout)

	v.SetDefault("bridge.poll_interval", d.Bridge.PollInterval)

	v.SetDefault("persistence.backend", d.Persistence.Backend)
	v.SetDefault("persistence.path", d.Persistence.Path)
	v.SetDefault("persistence.kv_bucket", d.Persistence.KVBucket)

	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("metrics.path", d.Metrics.Path)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.dir", d.Log.Dir)
}

// Load resolves the configuration from v, reading path first when it is set.
// Flags must already be bound to v by the caller.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if err := checkConfigFile(path); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "config file check")
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrParsingFailed, err),
				"Config", "Load", "read "+path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrParsingFailed, err),
			"Config", "Load", "decode")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// checkConfigFile rejects missing, oversized, non-regular or unknown-format files
func checkConfigFile(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if !configExtensions[ext] {
		return fmt.Errorf("%w: unsupported config format %q", errors.ErrInvalidConfig, ext)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrMissingConfig, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: not a regular file: %s", errors.ErrInvalidConfig, path)
	}
	if info.Size() > maxConfigSize {
		return fmt.Errorf("%w: config file too large: %d bytes > %d",
			errors.ErrInvalidConfig, info.Size(), maxConfigSize)
	}
	return nil
}
