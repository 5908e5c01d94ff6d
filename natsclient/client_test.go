package natsclient_test

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/mathgate/errors"
	"github.com/c360/mathgate/metric"
	"github.com/c360/mathgate/natsclient"
	"github.com/c360/mathgate/testutil"
)

type delivery struct {
	subject string
	payload any
}

// field reads key from an object payload
func (d delivery) field(key string) any {
	obj, _ := d.payload.(map[string]any)
	return obj[key]
}

func collect(ch chan<- delivery) natsclient.Handler {
	return func(subject string, payload any) {
		ch <- delivery{subject: subject, payload: payload}
	}
}

func receive(t *testing.T, ch <-chan delivery) delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return delivery{}
	}
}

func connectedClient(t *testing.T, opts ...natsclient.ClientOption) *natsclient.Client {
	t.Helper()

	_, url := testutil.StartEmbeddedNATS(t)
	client, err := natsclient.NewClient(url, opts...)
	require.NoError(t, err)
	require.NoError(t, client.Connect(t.Context()))
	t.Cleanup(func() {
		_ = client.Close(context.Background())
	})
	return client
}

func TestConnectionStatus_String(t *testing.T) {
	tests := []struct {
		status natsclient.ConnectionStatus
		want   string
	}{
		{natsclient.StatusDisconnected, "disconnected"},
		{natsclient.StatusConnecting, "connecting"},
		{natsclient.StatusConnected, "connected"},
		{natsclient.StatusReconnecting, "reconnecting"},
		{natsclient.ConnectionStatus(42), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestNewClient(t *testing.T) {
	client, err := natsclient.NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, natsclient.StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Nil(t, client.GetConnection())
}

func TestNewClient_InvalidOption(t *testing.T) {
	_, err := natsclient.NewClient("nats://localhost:4222", natsclient.WithTimeout(0))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestClient_NotConnected(t *testing.T) {
	client, err := natsclient.NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx := context.Background()
	assert.ErrorIs(t, client.Publish(ctx, "Start.x", map[string]any{}), natsclient.ErrNotConnected)
	assert.ErrorIs(t, client.Subscribe(ctx, "State.Response.x", func(string, any) {}), natsclient.ErrNotConnected)
	assert.ErrorIs(t, client.Unsubscribe("State.Response.x"), natsclient.ErrUnknownSubscription)

	_, err = client.RTT()
	assert.ErrorIs(t, err, natsclient.ErrNotConnected)
}

func TestClient_ConnectFailure(t *testing.T) {
	client, err := natsclient.NewClient("nats://127.0.0.1:1", natsclient.WithTimeout(500*time.Millisecond))
	require.NoError(t, err)

	err = client.Connect(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, natsclient.StatusDisconnected, client.Status())
}

func TestClient_TLSRequiredAgainstPlainServer(t *testing.T) {
	_, url := testutil.StartEmbeddedNATS(t)
	client, err := natsclient.NewClient(url,
		natsclient.WithTimeout(time.Second),
		natsclient.WithTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}),
	)
	require.NoError(t, err)

	err = client.Connect(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.False(t, client.IsHealthy())
}

func TestClient_ConnectClassification(t *testing.T) {
	_, url := testutil.StartEmbeddedNATSWithOptions(t, func(o *server.Options) {
		o.Authorization = "s3cret"
	})

	tests := []struct {
		name  string
		url   string
		token string
		fatal bool
	}{
		{"wrong token", url, "wrong", true},
		{"nothing listening", "nats://127.0.0.1:1", "s3cret", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := natsclient.NewClient(tt.url,
				natsclient.WithTimeout(time.Second),
				natsclient.WithToken(tt.token),
			)
			require.NoError(t, err)

			err = client.Connect(t.Context())
			require.Error(t, err)
			assert.Equal(t, tt.fatal, errors.IsFatal(err))
			assert.Equal(t, !tt.fatal, errors.IsTransient(err))
		})
	}
}

func TestClient_PublishSubscribe(t *testing.T) {
	m := metric.NewMetrics()
	client := connectedClient(t, natsclient.WithMetrics(m))
	assert.True(t, client.IsHealthy())

	ch := make(chan delivery, 4)
	require.NoError(t, client.Subscribe(t.Context(), "State.Response.abc", collect(ch)))
	assert.True(t, client.HasSubscription("State.Response.abc"))

	require.NoError(t, client.Publish(t.Context(), "State.Response.abc", map[string]any{"message": "done"}))

	d := receive(t, ch)
	assert.Equal(t, "State.Response.abc", d.subject)
	assert.Equal(t, "done", d.field("message"))

	assert.Equal(t, 1.0, promtest.ToFloat64(m.NATSPublished.WithLabelValues("State")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.NATSReceived.WithLabelValues("State")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.NATSConnected))

	rtt, err := client.RTT()
	require.NoError(t, err)
	assert.Positive(t, rtt)
}

func TestClient_RawMessagePassthrough(t *testing.T) {
	client := connectedClient(t)

	ch := make(chan delivery, 1)
	require.NoError(t, client.Subscribe(t.Context(), "Start.*", collect(ch)))

	body := json.RawMessage(`{"task":"solve","n":3}`)
	require.NoError(t, client.Publish(t.Context(), "Start.20240101_120000", body))

	d := receive(t, ch)
	assert.Equal(t, "Start.20240101_120000", d.subject)
	assert.Equal(t, map[string]any{"task": "solve", "n": 3.0}, d.payload)
}

func TestClient_SubscriptionsKeyedBySubject(t *testing.T) {
	client := connectedClient(t)
	ctx := t.Context()
	noop := func(string, any) {}

	require.NoError(t, client.Subscribe(ctx, "State.Response.a", noop))
	assert.ErrorIs(t, client.Subscribe(ctx, "State.Response.a", noop), natsclient.ErrAlreadySubscribed)

	// independent subjects do not interfere
	require.NoError(t, client.Subscribe(ctx, "State.Response.b", noop))

	require.NoError(t, client.Unsubscribe("State.Response.a"))
	assert.False(t, client.HasSubscription("State.Response.a"))
	assert.True(t, client.HasSubscription("State.Response.b"))
	assert.ErrorIs(t, client.Unsubscribe("State.Response.a"), natsclient.ErrUnknownSubscription)

	require.NoError(t, client.Subscribe(ctx, "State.Response.a", noop))
}

func TestClient_UnsubscribeStopsDelivery(t *testing.T) {
	client := connectedClient(t)
	ctx := t.Context()

	ch := make(chan delivery, 4)
	require.NoError(t, client.Subscribe(ctx, "GetLog.Response.1", collect(ch)))
	require.NoError(t, client.Unsubscribe("GetLog.Response.1"))

	require.NoError(t, client.Publish(ctx, "GetLog.Response.1", map[string]any{"log": "x"}))
	require.NoError(t, client.GetConnection().Flush())

	select {
	case d := <-ch:
		t.Fatalf("unexpected delivery after unsubscribe: %v", d)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClient_MalformedMessagesDropped(t *testing.T) {
	m := metric.NewMetrics()
	client := connectedClient(t, natsclient.WithMetrics(m))
	ctx := t.Context()

	ch := make(chan delivery, 4)
	require.NoError(t, client.Subscribe(ctx, "IsMathAlive.*", collect(ch)))

	require.NoError(t, client.Publish(ctx, "IsMathAlive.core", json.RawMessage(`not json`)))
	require.NoError(t, client.Publish(ctx, "IsMathAlive.core", json.RawMessage(`{"event":`)))
	require.NoError(t, client.Publish(ctx, "IsMathAlive.core", map[string]any{"event": "startup"}))

	d := receive(t, ch)
	assert.Equal(t, "startup", d.field("event"))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.NATSMalformed))
	assert.True(t, client.HasSubscription("IsMathAlive.*"))
}

func TestClient_NonObjectJSONDelivered(t *testing.T) {
	m := metric.NewMetrics()
	client := connectedClient(t, natsclient.WithMetrics(m))
	ctx := t.Context()

	ch := make(chan delivery, 4)
	require.NoError(t, client.Subscribe(ctx, "LogsList.Response", collect(ch)))

	tests := []struct {
		name    string
		payload any
		want    any
	}{
		{"array", []string{"a.log"}, []any{"a.log"}},
		{"string", "latest.log", "latest.log"},
		{"number", 42, 42.0},
		{"null", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, client.Publish(ctx, "LogsList.Response", tt.payload))
			d := receive(t, ch)
			assert.Equal(t, tt.want, d.payload)
		})
	}
	assert.Zero(t, promtest.ToFloat64(m.NATSMalformed))
}

func TestClient_PublishEncodeError(t *testing.T) {
	client := connectedClient(t)

	err := client.Publish(t.Context(), "Start.x", map[string]any{"bad": make(chan int)})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestClient_CloseIdempotent(t *testing.T) {
	client := connectedClient(t)
	require.NoError(t, client.Subscribe(t.Context(), "LogsList.Response", func(string, any) {}))

	require.NoError(t, client.Close(context.Background()))
	require.NoError(t, client.Close(context.Background()))

	assert.False(t, client.HasSubscription("LogsList.Response"))
	assert.Equal(t, natsclient.StatusDisconnected, client.Status())
	assert.ErrorIs(t, client.Publish(context.Background(), "LogsList.Request", map[string]any{}), natsclient.ErrClosed)
	assert.ErrorIs(t, client.Connect(context.Background()), natsclient.ErrClosed)
}

func TestClient_HealthCallback(t *testing.T) {
	healthy := make(chan bool, 4)
	client := connectedClient(t, natsclient.WithHealthChangeCallback(func(h bool) {
		healthy <- h
	}))
	require.True(t, client.IsHealthy())

	select {
	case h := <-healthy:
		assert.True(t, h)
	case <-time.After(time.Second):
		t.Fatal("health callback not invoked")
	}
}

func TestClient_KeyValue(t *testing.T) {
	client := connectedClient(t)
	ctx := t.Context()

	kv, err := client.KeyValue(ctx, "mathgate-test")
	require.NoError(t, err)

	_, err = kv.Put(ctx, "snapshot", []byte(`[]`))
	require.NoError(t, err)

	again, err := client.KeyValue(ctx, "mathgate-test")
	require.NoError(t, err)
	entry, err := again.Get(ctx, "snapshot")
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(entry.Value()))

	_, err = again.Get(ctx, "missing")
	assert.True(t, natsclient.IsKVNotFoundError(err))
}

func TestClient_ContainerRoundTrip(t *testing.T) {
	url := testutil.StartNATSContainer(t, "")

	client, err := natsclient.NewClient(url, natsclient.WithMaxReconnects(0))
	require.NoError(t, err)
	require.NoError(t, client.Connect(t.Context()))
	defer client.Close(context.Background())

	ch := make(chan delivery, 1)
	require.NoError(t, client.Subscribe(t.Context(), "LogsList.Response", collect(ch)))
	require.NoError(t, client.Publish(t.Context(), "LogsList.Response", testutil.LogsListing()))

	d := receive(t, ch)
	assert.Equal(t, []any{"2024-01-01.log", "latest.log"}, d.field("logs"))
}
