// Package testutil provides test helpers for the gateway packages.
//
// FakeBus is an in-memory transport with the same subject-keyed subscription
// rules as natsclient.Client. It records publishes, supports * and >
// wildcards, and lets a test script backend behaviour with Respond and
// Deliver, or inject failures with FailPublish and FailSubscribe:
//
//	bus := testutil.NewFakeBus()
//	bus.Respond("State.Request.*", func(b *testutil.FakeBus, subject string, _ any) {
//	    id := strings.TrimPrefix(subject, "State.Request.")
//	    b.Deliver("State.Response."+id, testutil.SolvedState())
//	})
//
// StartEmbeddedNATS runs a real JetStream-enabled server in-process for
// transport and persistence tests. StartNATSContainer runs one in Docker and
// skips when Docker is unavailable or -short is set.
package testutil
