package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/mathgate/bridge"
	"github.com/c360/mathgate/config"
	"github.com/c360/mathgate/correlation"
	"github.com/c360/mathgate/errors"
	gatewayhttp "github.com/c360/mathgate/gateway/http"
	"github.com/c360/mathgate/health"
	"github.com/c360/mathgate/metric"
	"github.com/c360/mathgate/natsclient"
	"github.com/c360/mathgate/pkg/retry"
	"github.com/c360/mathgate/pkg/tlsutil"
	"github.com/c360/mathgate/watchdog"
)

const (
	closeTimeout      = 5 * time.Second
	natsLinkComponent = "nats.link"
)

// serve wires the gateway and blocks until SIGINT/SIGTERM or a server failure
func serve(ctx context.Context, cfg *config.Config) error {
	logger, closeLogs, err := setupLogger(cfg.Log, time.Now())
	if err != nil {
		return err
	}
	defer func() { _ = closeLogs() }()
	slog.SetDefault(logger)

	logger.Info("Starting mathgate",
		"version", Version,
		"build_time", BuildTime,
		"http_addr", cfg.HTTP.Addr,
		"nats_url", cfg.NATS.URL,
		"persistence", cfg.Persistence.Backend)

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()
	metrics := registry.CoreMetrics()

	monitor := health.NewMonitor()

	client, err := connectNATS(signalCtx, cfg, logger, metrics, monitor)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			logger.Warn("NATS close failed", "error", err)
		}
	}()

	backend, err := newBackend(signalCtx, cfg, client)
	if err != nil {
		return err
	}
	store := correlation.NewStore(backend,
		correlation.WithLogger(logger),
		correlation.WithMetrics(metrics))
	store.EnsureLoaded()
	logger.Info("Correlation state loaded", "outstanding", store.Len())

	// pairs allocated after the startup heartbeat arrives belong to the new MathCore
	var startupMark atomic.Int64
	dog := watchdog.New(client,
		watchdog.WithSubject(cfg.Watchdog.Subject),
		watchdog.WithTimeout(cfg.Watchdog.Timeout),
		watchdog.WithLogger(logger),
		watchdog.WithMetrics(metrics),
		watchdog.BeforeStartup(func() {
			startupMark.Store(int64(store.Watermark()))
		}),
		watchdog.OnStartup(func() {
			if dropped := store.ClearThrough(int(startupMark.Load())); dropped > 0 {
				logger.Warn("MathCore restarted, outstanding requests dropped", "dropped", dropped)
			}
		}))
	if err := dog.Start(signalCtx); err != nil {
		return err
	}

	orch := bridge.New(client, store, dog,
		bridge.WithPollInterval(cfg.Bridge.PollInterval),
		bridge.WithLogger(logger),
		bridge.WithMetrics(metrics))

	monitor.Register("nats", health.TransportProbe(client))
	monitor.Register("mathcore", health.BackendProbe(dog))
	monitor.Register("correlations", health.StoreProbe(store))

	handler, err := gatewayhttp.NewHandler(orch, cfg.HTTP,
		gatewayhttp.WithLogger(logger),
		gatewayhttp.WithMetrics(metrics),
		gatewayhttp.WithHealth(monitor))
	if err != nil {
		return err
	}
	httpServer, err := gatewayhttp.NewServer(cfg.HTTP, handler, logger)
	if err != nil {
		return err
	}

	var metricsServer *metric.Server
	if cfg.Metrics.Addr != "" {
		metricsServer = metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, registry)
		logger.Info("Metrics enabled", "address", metricsServer.Address())
	}

	g, gctx := errgroup.WithContext(signalCtx)
	g.Go(httpServer.Start)
	if metricsServer != nil {
		g.Go(metricsServer.Start)
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		var errs []error
		errs = append(errs, httpServer.Stop(shutdownCtx))
		if metricsServer != nil {
			errs = append(errs, metricsServer.Stop(shutdownCtx))
		}
		return stderrors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("gateway stopped: %w", err)
	}
	logger.Info("mathgate shutdown complete")
	return nil
}

// connectNATS connects with exponential backoff; the gateway cannot start without the bus.
// Rejected credentials and TLS mismatches fail without retrying.
// Link transitions are pushed to monitor as "nats.link".
func connectNATS(ctx context.Context, cfg *config.Config, logger *slog.Logger,
	metrics *metric.Metrics, monitor *health.Monitor,
) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(metrics),
		natsclient.WithName(cfg.NATS.Name),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
		natsclient.WithTimeout(cfg.NATS.ConnectTimeout),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			logger.Info("NATS health changed", "healthy", healthy)
			if healthy {
				monitor.UpdateHealthy(natsLinkComponent, "connected")
			} else {
				monitor.UpdateUnhealthy(natsLinkComponent, "disconnected")
			}
		}),
	}
	switch {
	case cfg.NATS.Token != "":
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	case cfg.NATS.Username != "":
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}

	tlsConfig, err := tlsutil.LoadClientTLSConfig(cfg.NATS.TLS)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		opts = append(opts, natsclient.WithTLSConfig(tlsConfig))
	}

	client, err := natsclient.NewClient(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, err
	}

	retryCfg := errors.DefaultRetryConfig().ToRetryConfig()
	retryCfg.MaxAttempts = cfg.NATS.ConnectAttempts
	retryCfg.OnRetry = func(attempt int, err error, next time.Duration) {
		logger.Warn("NATS connect failed, retrying",
			"attempt", attempt,
			"next_in", next,
			"error", err)
	}
	err = retry.Do(ctx, retryCfg, func() error {
		err := client.Connect(ctx)
		if err != nil && !errors.IsTransient(err) {
			return retry.NonRetryable(err)
		}
		return err
	})
	if err != nil {
		return nil, errors.WrapFatal(err, "main", "connectNATS", "connect to "+cfg.NATS.URL)
	}
	monitor.UpdateHealthy(natsLinkComponent, "connected")
	return client, nil
}

func newBackend(ctx context.Context, cfg *config.Config, client *natsclient.Client) (correlation.Backend, error) {
	switch cfg.Persistence.Backend {
	case config.BackendKV:
		kv, err := client.KeyValue(ctx, cfg.Persistence.KVBucket)
		if err != nil {
			return nil, errors.WrapFatal(err, "main", "newBackend", "open bucket "+cfg.Persistence.KVBucket)
		}
		return correlation.NewKVBackend(kv), nil
	default:
		return correlation.NewFileBackend(cfg.Persistence.Path), nil
	}
}
