// Package health aggregates the health of the gateway's dependencies.
//
// A Monitor holds two kinds of entries: statuses pushed by components as
// their state changes (the NATS connection callback, for example) and probes
// that are evaluated on every aggregation (backend liveness, transport status).
// AggregateHealth folds both into one Status for the /healthz endpoint:
//
//	monitor := health.NewMonitor()
//	monitor.Register("nats", health.TransportProbe(client))
//	monitor.Register("mathcore", health.BackendProbe(dog))
//	status := monitor.AggregateHealth("mathgate")
//
// Messages derived from errors are sanitized so URLs, paths and credentials
// never reach the health endpoint.
package health
