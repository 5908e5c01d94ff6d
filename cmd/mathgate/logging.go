package main

import (
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/c360/mathgate/config"
	"github.com/c360/mathgate/errors"
)

// latestLogName is truncated on every start; the dated file accumulates
const latestLogName = "latest.log"

// setupLogger builds the process logger. With cfg.Dir set, output is teed to
// stdout, <dir>/YYYY-MM-DD.log and <dir>/latest.log. The returned func closes the files.
func setupLogger(cfg config.LogConfig, now time.Time) (*slog.Logger, func() error, error) {
	return newLogger(cfg, os.Stdout, now)
}

func newLogger(cfg config.LogConfig, stdout io.Writer, now time.Time) (*slog.Logger, func() error, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	out := stdout
	closeFn := func() error { return nil }

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, nil, errors.WrapFatal(err, "main", "setupLogger", "create log dir")
		}
		daily, err := os.OpenFile(filepath.Join(cfg.Dir, now.Format("2006-01-02")+".log"),
			os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, errors.WrapFatal(err, "main", "setupLogger", "open daily log")
		}
		latest, err := os.OpenFile(filepath.Join(cfg.Dir, latestLogName),
			os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			_ = daily.Close()
			return nil, nil, errors.WrapFatal(err, "main", "setupLogger", "open latest log")
		}
		out = io.MultiWriter(stdout, daily, latest)
		closeFn = func() error {
			return stderrors.Join(daily.Close(), latest.Close())
		}
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	logger := slog.New(handler).With(
		"service", appName,
		"version", Version,
		"pid", os.Getpid(),
	)
	return logger, closeFn, nil
}
