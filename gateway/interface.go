package gateway

import (
	"context"

	"github.com/c360/mathgate/bridge"
	"github.com/c360/mathgate/health"
)

// Orchestrator performs the bus round trips behind each client command.
// bridge.Orchestrator is the production implementation.
type Orchestrator interface {
	Start(ctx context.Context, body []byte) bridge.Reply
	Poll(ctx context.Context, query int) bridge.Reply
	LogsList(ctx context.Context) bridge.Reply
	GetLog(ctx context.Context, id string) bridge.Reply
}

// HealthReporter aggregates dependency health for the /healthz endpoint
type HealthReporter interface {
	AggregateHealth(system string) health.Status
}
