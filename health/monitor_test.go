package health

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/mathgate/natsclient"
)

type fakeConn struct {
	state  atomic.Int32
	rttErr error
}

func (f *fakeConn) Status() natsclient.ConnectionStatus {
	return natsclient.ConnectionStatus(f.state.Load())
}

func (f *fakeConn) RTT() (time.Duration, error) {
	if f.rttErr != nil {
		return 0, f.rttErr
	}
	return 1500 * time.Microsecond, nil
}

type fakeLiveness struct {
	alive bool
	epoch uint64
	last  time.Time
}

func (f fakeLiveness) IsAlive() bool            { return f.alive }
func (f fakeLiveness) Epoch() uint64            { return f.epoch }
func (f fakeLiveness) LastHeartbeat() time.Time { return f.last }

type fakeSize int

func (f fakeSize) Len() int { return int(f) }

func TestMonitor_UpdateNamesPushedStatus(t *testing.T) {
	m := NewMonitor()
	assert.Empty(t, m.AggregateHealth("mathgate").SubStatuses)

	m.Update("store", Status{Component: "wrong-name", Status: StateHealthy})

	agg := m.AggregateHealth("mathgate")
	require.Len(t, agg.SubStatuses, 1)
	assert.Equal(t, "store", agg.SubStatuses[0].Component)
	assert.False(t, agg.SubStatuses[0].Timestamp.IsZero())
}

func TestMonitor_ConvenienceUpdates(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("a", "fine")
	m.UpdateUnhealthy("b", "down")

	agg := m.AggregateHealth("mathgate")
	assert.True(t, agg.IsUnhealthy())
	require.Len(t, agg.SubStatuses, 2)
	assert.Equal(t, "a", agg.SubStatuses[0].Component)

	m.UpdateHealthy("b", "back")
	assert.True(t, m.AggregateHealth("mathgate").IsHealthy())
}

func TestMonitor_ProbeShadowsPushedStatus(t *testing.T) {
	m := NewMonitor()
	m.UpdateUnhealthy("nats", "stale")
	m.Register("nats", func() Status { return NewHealthy("", "live") })

	agg := m.AggregateHealth("mathgate")
	assert.True(t, agg.IsHealthy())
	require.Len(t, agg.SubStatuses, 1)
	assert.Equal(t, "nats", agg.SubStatuses[0].Component)
	assert.Equal(t, "live", agg.SubStatuses[0].Message)
}

func TestMonitor_ProbesEvaluatedOnEveryCall(t *testing.T) {
	conn := &fakeConn{}
	conn.state.Store(int32(natsclient.StatusConnected))

	m := NewMonitor()
	m.Register("nats", TransportProbe(conn))
	assert.True(t, m.AggregateHealth("mathgate").IsHealthy())

	conn.state.Store(int32(natsclient.StatusDisconnected))
	assert.True(t, m.AggregateHealth("mathgate").IsUnhealthy())
}

func TestTransportStatus_RoundTripFailure(t *testing.T) {
	conn := &fakeConn{rttErr: errors.New("nats: timeout talking to nats://10.0.0.5:4222")}
	conn.state.Store(int32(natsclient.StatusConnected))

	st := TransportProbe(conn)()
	assert.True(t, st.IsUnhealthy())
	assert.Equal(t, "nats: timeout talking to [URL]", st.Message)
}

func TestTransportStatus_ReportsRoundTrip(t *testing.T) {
	conn := &fakeConn{}
	conn.state.Store(int32(natsclient.StatusConnected))

	st := TransportProbe(conn)()
	assert.True(t, st.IsHealthy())
	require.NotNil(t, st.Metrics)
	assert.InDelta(t, 1.5, st.Metrics.RTTMillis, 0.001)
}

func TestTransportProbe(t *testing.T) {
	tests := []struct {
		state natsclient.ConnectionStatus
		want  string
	}{
		{natsclient.StatusConnected, StateHealthy},
		{natsclient.StatusConnecting, StateDegraded},
		{natsclient.StatusReconnecting, StateDegraded},
		{natsclient.StatusDisconnected, StateUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			conn := &fakeConn{}
			conn.state.Store(int32(tt.state))
			assert.Equal(t, tt.want, TransportProbe(conn)().Status)
		})
	}
}

func TestBackendProbe(t *testing.T) {
	last := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	alive := BackendProbe(fakeLiveness{alive: true, epoch: 2, last: last})()
	assert.True(t, alive.IsHealthy())
	require.NotNil(t, alive.Metrics)
	assert.Equal(t, uint64(2), alive.Metrics.Epoch)
	assert.Equal(t, last, alive.Metrics.LastActivity)

	down := BackendProbe(fakeLiveness{})()
	assert.True(t, down.IsDegraded())
}

func TestStoreProbe(t *testing.T) {
	st := StoreProbe(fakeSize(7))()
	assert.True(t, st.IsHealthy())
	require.NotNil(t, st.Metrics)
	assert.Equal(t, 7, st.Metrics.Outstanding)
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	m := NewMonitor()
	m.Register("probe", func() Status { return NewHealthy("", "") })

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.UpdateHealthy("pushed", "ok")
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = m.AggregateHealth("mathgate")
			}
		}()
	}
	wg.Wait()

	assert.Len(t, m.AggregateHealth("mathgate").SubStatuses, 2)
}
