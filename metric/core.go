package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mathgate"

// Metrics contains the gateway metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP surface
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// NATS transport
	NATSPublished     *prometheus.CounterVec
	NATSPublishErrors *prometheus.CounterVec
	NATSReceived      *prometheus.CounterVec
	NATSMalformed     prometheus.Counter
	NATSConnected     prometheus.Gauge

	// Orchestrator
	PollOutcomes *prometheus.CounterVec

	// Backend liveness
	BackendAlive        prometheus.Gauge
	BackendStartupEpoch prometheus.Gauge
	Heartbeats          prometheus.Counter

	// Correlation store
	CorrelationsOutstanding prometheus.Gauge
	PersistErrors           prometheus.Counter
}

// NewMetrics creates the gateway metrics. They are not registered; see MetricsRegistry.
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests by route and status code",
			},
			[]string{"route", "status"},
		),

		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				// /state blocks up to the backend timeout
				Buckets: []float64{.005, .01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"route"},
		),

		NATSPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "published_total",
				Help:      "Total messages published by subject kind",
			},
			[]string{"kind"},
		),

		NATSPublishErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "publish_errors_total",
				Help:      "Total failed publishes by subject kind",
			},
			[]string{"kind"},
		),

		NATSReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "received_total",
				Help:      "Total messages delivered to subscriptions by subject kind",
			},
			[]string{"kind"},
		),

		NATSMalformed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "malformed_total",
				Help:      "Total inbound messages dropped because they were not a JSON object",
			},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		PollOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_outcomes_total",
				Help:      "Total completed round trips by outcome",
			},
			[]string{"outcome"},
		),

		BackendAlive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "alive",
				Help:      "Backend liveness as seen by the watchdog (0=unavailable, 1=alive)",
			},
		),

		BackendStartupEpoch: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "startup_epoch",
				Help:      "Number of backend startup announcements observed",
			},
		),

		Heartbeats: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "heartbeats_total",
				Help:      "Total backend heartbeats received",
			},
		),

		CorrelationsOutstanding: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "correlations",
				Name:      "outstanding",
				Help:      "Outstanding query number to correlation ID pairs",
			},
		),

		PersistErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persist_errors_total",
				Help:      "Total failed correlation snapshot writes",
			},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.HTTPRequests,
		m.HTTPRequestDuration,
		m.NATSPublished,
		m.NATSPublishErrors,
		m.NATSReceived,
		m.NATSMalformed,
		m.NATSConnected,
		m.PollOutcomes,
		m.BackendAlive,
		m.BackendStartupEpoch,
		m.Heartbeats,
		m.CorrelationsOutstanding,
		m.PersistErrors,
	}
}

// RecordHTTPRequest records a finished HTTP request
func (m *Metrics) RecordHTTPRequest(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordPublish records a publish attempt for a subject kind
func (m *Metrics) RecordPublish(kind string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.NATSPublishErrors.WithLabelValues(kind).Inc()
		return
	}
	m.NATSPublished.WithLabelValues(kind).Inc()
}

// RecordReceived increments the delivered message counter
func (m *Metrics) RecordReceived(kind string) {
	if m == nil {
		return
	}
	m.NATSReceived.WithLabelValues(kind).Inc()
}

// RecordMalformed increments the dropped message counter
func (m *Metrics) RecordMalformed() {
	if m == nil {
		return
	}
	m.NATSMalformed.Inc()
}

// RecordNATSStatus updates NATS connection status
func (m *Metrics) RecordNATSStatus(connected bool) {
	if m == nil {
		return
	}
	m.NATSConnected.Set(boolValue(connected))
}

// RecordPollOutcome increments the round-trip outcome counter
func (m *Metrics) RecordPollOutcome(outcome string) {
	if m == nil {
		return
	}
	m.PollOutcomes.WithLabelValues(outcome).Inc()
}

// RecordHeartbeat counts a heartbeat and marks the backend alive
func (m *Metrics) RecordHeartbeat() {
	if m == nil {
		return
	}
	m.Heartbeats.Inc()
	m.BackendAlive.Set(1)
}

// RecordBackendAlive updates backend liveness
func (m *Metrics) RecordBackendAlive(alive bool) {
	if m == nil {
		return
	}
	m.BackendAlive.Set(boolValue(alive))
}

// RecordStartupEpoch updates the backend startup epoch
func (m *Metrics) RecordStartupEpoch(epoch uint64) {
	if m == nil {
		return
	}
	m.BackendStartupEpoch.Set(float64(epoch))
}

// RecordOutstanding updates the number of outstanding correlations
func (m *Metrics) RecordOutstanding(n int) {
	if m == nil {
		return
	}
	m.CorrelationsOutstanding.Set(float64(n))
}

// RecordPersistError increments the snapshot write failure counter
func (m *Metrics) RecordPersistError() {
	if m == nil {
		return
	}
	m.PersistErrors.Inc()
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
