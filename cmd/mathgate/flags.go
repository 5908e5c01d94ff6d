package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/c360/mathgate/config"
)

// flagKeys maps command-line flags onto configuration keys
var flagKeys = map[string]string{
	"http-addr":         "http.addr",
	"nats-url":          "nats.url",
	"metrics-addr":      "metrics.addr",
	"persistence":       "persistence.backend",
	"state-file":        "persistence.path",
	"heartbeat-timeout": "watchdog.timeout",
	"poll-interval":     "bridge.poll_interval",
	"log-level":         "log.level",
	"log-format":        "log.format",
	"log-dir":           "log.dir",
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var configPath string

	root := &cobra.Command{
		Use:   appName,
		Short: "HTTP gateway for the MathCore compute service",
		Long: `mathgate accepts jobs over HTTP, forwards them to MathCore over NATS and
lets clients poll for results by query number.

Configuration is read from flags, MATHGATE_* environment variables and an
optional config file, in that order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v, cmd.Flags(), configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", os.Getenv("MATHGATE_CONFIG"),
		"Path to configuration file (env: MATHGATE_CONFIG)")
	pf.String("http-addr", "", "HTTP listen address (env: MATHGATE_HTTP_ADDR)")
	pf.String("nats-url", "", "NATS server URL (env: MATHGATE_NATS_URL)")
	pf.String("metrics-addr", "", "Prometheus listen address, empty to disable (env: MATHGATE_METRICS_ADDR)")
	pf.String("persistence", "", "Correlation store backend: file, kv (env: MATHGATE_PERSISTENCE_BACKEND)")
	pf.String("state-file", "", "Correlation snapshot path for the file backend (env: MATHGATE_PERSISTENCE_PATH)")
	pf.Duration("heartbeat-timeout", 0, "Silence after which MathCore is considered down (env: MATHGATE_WATCHDOG_TIMEOUT)")
	pf.Duration("poll-interval", 0, "Liveness re-check interval while waiting (env: MATHGATE_BRIDGE_POLL_INTERVAL)")
	pf.String("log-level", "", "Log level: debug, info, warn, error (env: MATHGATE_LOG_LEVEL)")
	pf.String("log-format", "", "Log format: json, text (env: MATHGATE_LOG_FORMAT)")
	pf.String("log-dir", "", "Directory for log files, empty for stdout only (env: MATHGATE_LOG_DIR)")

	root.AddCommand(newValidateCmd(v, &configPath), newVersionCmd())
	return root
}

func newValidateCmd(v *viper.Viper, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and print it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v, cmd.Flags(), *configPath)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cfg.String())
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (built %s)\n", appName, Version, BuildTime)
		},
	}
}

// loadConfig binds the flags that were actually set and resolves the configuration.
// Unset flags are not bound so their zero defaults never mask env or file values.
func loadConfig(v *viper.Viper, fs *pflag.FlagSet, path string) (*config.Config, error) {
	var bindErr error
	fs.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(key, f)
	})
	if bindErr != nil {
		return nil, fmt.Errorf("bind flags: %w", bindErr)
	}

	cfg, err := config.Load(v, path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
