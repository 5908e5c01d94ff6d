package metric

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerrors "github.com/c360/mathgate/errors"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.Same(t, registry.Metrics, registry.CoreMetrics())

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["go_goroutines"], "go collector should be registered")
	assert.True(t, names["mathgate_nats_connected"])
	assert.True(t, names["mathgate_backend_alive"])
}

func TestMetricsRegistry_Register(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "A test counter",
	})

	require.NoError(t, registry.Register("test", "test_counter", counter))

	err := registry.Register("test", "test_counter", counter)
	require.Error(t, err)
	assert.True(t, gwerrors.IsInvalid(err))

	assert.True(t, registry.Unregister("test", "test_counter"))
	assert.False(t, registry.Unregister("test", "test_counter"))
}

func TestMetricsRegistry_PrometheusConflict(t *testing.T) {
	registry := NewMetricsRegistry()

	clash := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mathgate",
		Subsystem: "nats",
		Name:      "connected",
		Help:      "NATS connection status (0=disconnected, 1=connected)",
	})

	err := registry.Register("other", "connected", clash)
	require.Error(t, err)
	var alreadyRegErr prometheus.AlreadyRegisteredError
	assert.True(t, errors.As(err, &alreadyRegErr))
}

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	m.RecordHTTPRequest("/start", http.StatusOK, 10*time.Millisecond)
	m.RecordPublish("Start", nil)
	m.RecordPublish("Start", errors.New("boom"))
	m.RecordReceived("State")
	m.RecordMalformed()
	m.RecordNATSStatus(true)
	m.RecordPollOutcome("response")
	m.RecordHeartbeat()
	m.RecordStartupEpoch(3)
	m.RecordOutstanding(7)
	m.RecordPersistError()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/start", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSPublished.WithLabelValues("Start")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSPublishErrors.WithLabelValues("Start")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSReceived.WithLabelValues("State")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSMalformed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollOutcomes.WithLabelValues("response")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Heartbeats))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendAlive))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.BackendStartupEpoch))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.CorrelationsOutstanding))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersistErrors))

	m.RecordBackendAlive(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BackendAlive))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordHTTPRequest("/state", 200, time.Second)
		m.RecordPublish("State", nil)
		m.RecordReceived("State")
		m.RecordMalformed()
		m.RecordNATSStatus(false)
		m.RecordPollOutcome("cancelled")
		m.RecordHeartbeat()
		m.RecordBackendAlive(true)
		m.RecordStartupEpoch(1)
		m.RecordOutstanding(0)
		m.RecordPersistError()
	})
}

func TestServer_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.Metrics.RecordHeartbeat()

	srv := NewServer("", "", registry)
	assert.Equal(t, "http://:9090/metrics", srv.Address())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "mathgate_heartbeats_total 1"))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "OK", rec.Body.String())
}

func TestServer_StartWithoutRegistry(t *testing.T) {
	srv := NewServer("127.0.0.1:0", "/metrics", nil)
	err := srv.Start()
	require.Error(t, err)
	assert.True(t, gwerrors.IsFatal(err))
}
