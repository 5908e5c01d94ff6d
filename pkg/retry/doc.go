// Package retry runs an operation with exponential backoff and optional jitter.
//
// The gateway uses it for exactly one thing: establishing the initial NATS
// connection at startup. Request-time transport failures are never retried;
// they are reported to the HTTP caller instead.
//
//	err := retry.Do(ctx, retry.Config{
//	    MaxAttempts:  5,
//	    InitialDelay: 250 * time.Millisecond,
//	    MaxDelay:     5 * time.Second,
//	    Multiplier:   2,
//	}, func() error {
//	    return client.Connect(ctx)
//	})
//
// Wrap an error with NonRetryable to stop retrying immediately.
package retry
