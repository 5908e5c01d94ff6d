package health

import (
	"time"

	"github.com/c360/mathgate/natsclient"
)

// ConnectionSource reports the state of a NATS connection
type ConnectionSource interface {
	Status() natsclient.ConnectionStatus
	RTT() (time.Duration, error)
}

// LivenessSource reports backend liveness as seen from the heartbeat stream
type LivenessSource interface {
	IsAlive() bool
	Epoch() uint64
	LastHeartbeat() time.Time
}

// SizeSource reports the number of outstanding correlations
type SizeSource interface {
	Len() int
}

// TransportProbe maps the connection state onto a health state.
// A reconnecting client is degraded; a disconnected one is unhealthy.
// A connected client must also answer a server round trip.
func TransportProbe(src ConnectionSource) Probe {
	return func() Status {
		switch state := src.Status(); state {
		case natsclient.StatusConnected:
			rtt, err := src.RTT()
			if err != nil {
				return FromError("", err)
			}
			return NewHealthy("", "connected").WithMetrics(&Metrics{
				RTTMillis: float64(rtt.Microseconds()) / 1000,
			})
		case natsclient.StatusConnecting, natsclient.StatusReconnecting:
			return NewDegraded("", state.String())
		default:
			return NewUnhealthy("", state.String())
		}
	}
}

// BackendProbe reports MathCore liveness. A silent backend is degraded.
func BackendProbe(src LivenessSource) Probe {
	return func() Status {
		var status Status
		if src.IsAlive() {
			status = NewHealthy("", "heartbeat received")
		} else {
			status = NewDegraded("", "no heartbeat within timeout")
		}
		return status.WithMetrics(&Metrics{
			LastActivity: src.LastHeartbeat(),
			Epoch:        src.Epoch(),
		})
	}
}

// StoreProbe is always healthy and reports the outstanding correlation count
func StoreProbe(src SizeSource) Probe {
	return func() Status {
		return NewHealthy("", "ok").WithMetrics(&Metrics{Outstanding: src.Len()})
	}
}
