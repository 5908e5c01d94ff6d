package testutil

// Payloads shaped like MathCore traffic.

// SampleJob is an opaque job body accepted by /start
const SampleJob = `{"task":"solve","equation":"x^2-4=0","variables":["x"]}`

// Heartbeat is a periodic liveness announcement
func Heartbeat() map[string]any {
	return map[string]any{"event": "heartbeat", "uptime": 120}
}

// StartupHeartbeat announces a backend (re)start
func StartupHeartbeat() map[string]any {
	return map[string]any{"event": "startup"}
}

// SolvedState is a successful State.Response payload
func SolvedState() map[string]any {
	return map[string]any{
		"solutions": []any{map[string]any{"x": 2.0}, map[string]any{"x": -2.0}},
		"state": map[string]any{
			"status":   "Ok",
			"desc":     "SOLVED",
			"solnumbs": 2.0,
			"time":     0.25,
		},
	}
}

// PendingState is a State.Response reported while the job is still running
func PendingState() map[string]any {
	return map[string]any{"message": "Task is still being processed"}
}

// FailedState is a State.Response carrying a backend error
func FailedState() map[string]any {
	return map[string]any{"error": "Task not found"}
}

// LogsListing is a LogsList.Response payload
func LogsListing() map[string]any {
	return map[string]any{"logs": []any{"2024-01-01.log", "latest.log"}}
}
