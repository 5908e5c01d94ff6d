// Package config defines mathgate's configuration and loads it with viper.
//
// Values are resolved in order of precedence: command-line flags bound by the
// CLI, MATHGATE_* environment variables, an optional JSON/YAML/TOML file, and
// finally Default():
//
//	v := viper.New()
//	cfg, err := config.Load(v, "mathgate.yaml")
//
// Nested keys map to environment variables by upper-casing and replacing dots
// with underscores, so nats.url is read from MATHGATE_NATS_URL.
package config
