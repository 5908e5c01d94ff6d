package health

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_Predicates(t *testing.T) {
	tests := []struct {
		name      string
		status    Status
		healthy   bool
		degraded  bool
		unhealthy bool
	}{
		{"healthy", NewHealthy("x", ""), true, false, false},
		{"degraded", NewDegraded("x", ""), false, true, false},
		{"unhealthy", NewUnhealthy("x", ""), false, false, true},
		{"empty", Status{}, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.healthy, tt.status.IsHealthy())
			assert.Equal(t, tt.degraded, tt.status.IsDegraded())
			assert.Equal(t, tt.unhealthy, tt.status.IsUnhealthy())
			assert.Equal(t, tt.healthy, tt.status.Healthy)
		})
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want string
	}{
		{"no dependencies", nil, StateHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StateHealthy},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StateDegraded},
		{"unhealthy wins over degraded", []Status{NewUnhealthy("a", ""), NewDegraded("b", "")}, StateUnhealthy},
		{"unhealthy after degraded", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, StateUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("mathgate", tt.subs)
			assert.Equal(t, "mathgate", got.Component)
			assert.Equal(t, tt.want, got.Status)
			assert.Len(t, got.SubStatuses, len(tt.subs))
		})
	}
}

func TestAggregate_CopiesSubStatuses(t *testing.T) {
	subs := []Status{NewHealthy("a", "")}
	got := Aggregate("mathgate", subs)

	subs[0].Status = StateUnhealthy
	assert.Equal(t, StateHealthy, got.SubStatuses[0].Status)
}

func TestFromError(t *testing.T) {
	assert.True(t, FromError("nats", nil).IsHealthy())

	st := FromError("nats", errors.New("cannot connect to nats://user:pw@10.0.0.5:4222"))
	assert.True(t, st.IsUnhealthy())
	assert.Equal(t, "cannot connect to [URL]", st.Message)
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", ""},
		{"unix file path", "failed to write /var/lib/mathgate/query_state.json", "failed to write [PATH]"},
		{"windows file path", "cannot read C:\\mathgate\\config.yaml", "cannot read [PATH]"},
		{"http url", "backend probe failed at https://mathcore.local/health", "backend probe failed at [URL]"},
		{"nats url", "cannot connect to nats://localhost:4222", "cannot connect to [URL]"},
		{"ip address", "timeout connecting to 192.168.1.100", "timeout connecting to [IP]"},
		{"port number", "failed to bind to :9000", "failed to bind to [PORT]"},
		{"credentials", "auth failed with password:hunter2", "auth failed with [REDACTED]"},
		{"token and url", "failed at https://192.168.1.1:8080/api with token=abc123", "failed at [URL] with [REDACTED]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeErrorMessage(tt.input))
		})
	}
}
