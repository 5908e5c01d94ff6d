// Package correlation maps client-facing query numbers to the correlation IDs
// used on the bus, and keeps that mapping across gateway restarts.
//
// Query numbers strictly increase for the life of the process and resume from
// the largest persisted number after a restart. Each mutation rewrites the
// whole snapshot through a Backend: FileBackend (atomic temp-file rename) or
// KVBackend (one key in a JetStream KV bucket). Persistence failures are
// logged and counted but never fail the caller.
//
// IDGenerator formats IDs as YYYYMMDD_HHMMSS and adds a short random suffix
// when more than one ID is issued in the same second.
package correlation
