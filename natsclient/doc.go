// Package natsclient is the gateway's NATS transport.
//
// Client wraps a single *nats.Conn with JSON encoding on both directions:
// Publish marshals any value (json.RawMessage is sent as-is) and Subscribe
// decodes each message with encoding/json before invoking the handler, so
// objects, arrays, scalars and null all reach it. Messages that are not valid
// JSON are dropped and counted.
//
// Subscriptions are keyed by subject. A second Subscribe on a subject that is
// already held fails with ErrAlreadySubscribed, which lets callers use the
// subject itself as a mutual-exclusion token for in-flight requests:
//
//	client, err := natsclient.NewClient(url, natsclient.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
//	err = client.Subscribe(ctx, "State.Response."+id, func(subject string, payload any) {
//	    // runs on the NATS delivery goroutine
//	})
//
// Handlers run on the NATS delivery goroutine and must not block.
//
// KeyValue opens or creates a JetStream KV bucket on the same connection.
package natsclient
