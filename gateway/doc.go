// Package gateway defines the client-facing surface of mathgate.
//
// The HTTP implementation lives in gateway/http. It accepts synchronous
// client calls and hands them to an Orchestrator, which performs the
// asynchronous round trip over NATS:
//
//	┌─────────────────┐
//	│  HTTP Client    │  POST /start, GET /state?num=N
//	└────────┬────────┘
//	         ↓
//	┌────────────────────────────────────────┐
//	│  gateway/http (chi router)             │
//	└────────┬───────────────────────────────┘
//	         ↓ Orchestrator
//	┌────────────────────────────────────────┐
//	│  bridge: Start.<id>, State.Request.<id>│
//	└────────┬───────────────────────────────┘
//	         ↓ NATS
//	┌────────────────────────────────────────┐
//	│  MathCore                              │
//	└────────────────────────────────────────┘
//
// Every reply is JSON with HTTP status 200; failures are reported inside the
// body so that existing clients keep working unchanged.
package gateway
