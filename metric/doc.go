// Package metric holds the gateway's Prometheus metrics.
//
// MetricsRegistry wraps a private prometheus.Registry with the gateway metrics,
// the Go runtime collector and the process collector registered. Components
// receive the *Metrics value and call its Record methods; a nil *Metrics is
// accepted everywhere so tests and metrics-less deployments need no stubs.
//
// Server exposes the registry in the OpenMetrics format:
//
//	registry := metric.NewMetricsRegistry()
//	srv := metric.NewServer(":9090", "/metrics", registry)
//	go srv.Start()
//	defer srv.Stop(ctx)
package metric
