package natsclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/c360/mathgate/errors"
	"github.com/c360/mathgate/metric"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Error messages
var (
	ErrNotConnected        = stderrors.New("not connected to NATS")
	ErrAlreadySubscribed   = stderrors.New("subject already has an active subscription")
	ErrUnknownSubscription = stderrors.New("no subscription for subject")
	ErrClosed              = stderrors.New("client is closed")
)

// Handler receives a decoded JSON value delivered on subject: an object is a
// map[string]any, an array is []any, and null is nil.
type Handler func(subject string, payload any)

// Client is a JSON pub/sub client over one NATS connection.
// Subscriptions are keyed by subject; at most one per subject.
type Client struct {
	url     string
	status  atomic.Value // stores ConnectionStatus
	logger  *slog.Logger
	metrics *metric.Metrics

	conn *nats.Conn
	js   jetstream.JetStream
	subs *xsync.Map[string, *nats.Subscription]

	// Connection options
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	clientName    string

	// Authentication, cleared on close
	username string
	password string
	token    string

	tlsConfig *tls.Config

	onHealthChange func(bool)

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a new NATS client with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:           url,
		logger:        slog.Default(),
		subs:          xsync.NewMap[string, *nats.Subscription](),
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		pingInterval:  30 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  10 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.logger = c.logger.With("component", "natsclient")
	c.status.Store(StatusDisconnected)

	return c, nil
}

// URL returns the NATS server URL
func (m *Client) URL() string {
	return m.url
}

// Status returns the current connection status
func (m *Client) Status() ConnectionStatus {
	val := m.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

func (m *Client) setStatus(status ConnectionStatus) {
	m.status.Store(status)
	m.metrics.RecordNATSStatus(status == StatusConnected)
}

// IsHealthy returns true if the connection is healthy
func (m *Client) IsHealthy() bool {
	return m.Status() == StatusConnected
}

// GetConnection returns the current NATS connection
func (m *Client) GetConnection() *nats.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

func (m *Client) connected() (*nats.Conn, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	conn := m.GetConnection()
	if conn == nil || !conn.IsConnected() {
		return nil, ErrNotConnected
	}
	return conn, nil
}

func (m *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(m.maxReconnects),
		nats.ReconnectWait(m.reconnectWait),
		nats.PingInterval(m.pingInterval),
		nats.Timeout(m.timeout),
		nats.DrainTimeout(m.drainTimeout),
		nats.DisconnectErrHandler(m.handleDisconnect),
		nats.ReconnectHandler(m.handleReconnect),
		nats.ClosedHandler(m.handleClosed),
		nats.ErrorHandler(m.handleError),
	}

	if m.username != "" && m.password != "" {
		opts = append(opts, nats.UserInfo(m.username, m.password))
	}
	if m.token != "" {
		opts = append(opts, nats.Token(m.token))
	}
	if m.clientName != "" {
		opts = append(opts, nats.Name(m.clientName))
	}
	if m.tlsConfig != nil {
		opts = append(opts, nats.Secure(m.tlsConfig))
	}

	return opts
}

// Connect establishes the connection to the NATS server
func (m *Client) Connect(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}

	m.setStatus(StatusConnecting)
	m.logger.Info("Connecting to NATS", "url", m.url)

	opts := m.buildConnectionOptions()

	type result struct {
		conn *nats.Conn
		err  error
	}
	connectDone := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(m.url, opts...)
		connectDone <- result{conn: conn, err: err}
	}()

	select {
	case res := <-connectDone:
		if res.err != nil {
			m.setStatus(StatusDisconnected)
			m.logger.Error("NATS connection failed", "url", m.url, "error", res.err)
			if rejectedConnect(res.err) {
				return errors.WrapFatal(res.err, "Client", "Connect", "establish connection")
			}
			return errors.WrapTransient(res.err, "Client", "Connect", "establish connection")
		}

		js, err := jetstream.New(res.conn)
		if err != nil {
			m.logger.Warn("JetStream unavailable", "error", err)
		}

		m.mu.Lock()
		m.conn = res.conn
		m.js = js
		m.mu.Unlock()
	case <-ctx.Done():
		m.setStatus(StatusDisconnected)
		go func() {
			// late connection must not leak
			if res := <-connectDone; res.conn != nil {
				res.conn.Close()
			}
		}()
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	m.setStatus(StatusConnected)
	m.logger.Info("Connected to NATS", "url", m.url)
	m.notifyHealth(true)

	return nil
}

// rejectedConnect reports connect failures that repeat on every attempt:
// refused credentials, a TLS mismatch or an untrusted server certificate.
func rejectedConnect(err error) bool {
	var certErr *tls.CertificateVerificationError
	if stderrors.As(err, &certErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sentinel := range []error{
		nats.ErrAuthorization, nats.ErrAuthExpired, nats.ErrAuthRevoked,
		nats.ErrSecureConnWanted, nats.ErrSecureConnRequired,
	} {
		// server auth errors arrive as plain text, not the sentinel
		if stderrors.Is(err, sentinel) ||
			strings.Contains(msg, strings.TrimPrefix(sentinel.Error(), "nats: ")) {
			return true
		}
	}
	return false
}

// Publish JSON-encodes payload and publishes it on subject.
// A json.RawMessage payload is sent verbatim.
func (m *Client) Publish(ctx context.Context, subject string, payload any) error {
	kind := SubjectKind(subject)

	err := m.publish(ctx, subject, payload)
	m.metrics.RecordPublish(kind, err)
	if err != nil {
		m.logger.Error("Publish failed", "subject", subject, "error", err)
	}
	return err
}

func (m *Client) publish(ctx context.Context, subject string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	conn, err := m.connected()
	if err != nil {
		return err
	}

	var data []byte
	if raw, ok := payload.(json.RawMessage); ok {
		data = raw
	} else {
		data, err = json.Marshal(payload)
		if err != nil {
			return errors.WrapInvalid(err, "Client", "Publish", "encode payload")
		}
	}

	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", fmt.Sprintf("send to %s", subject))
	}
	return nil
}

// Subscribe registers handler for subject. Wildcards are allowed.
// Messages that are not valid JSON are logged and dropped.
func (m *Client) Subscribe(ctx context.Context, subject string, handler Handler) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	conn, err := m.connected()
	if err != nil {
		return err
	}

	// reserve the subject before touching the server
	if _, loaded := m.subs.LoadOrStore(subject, nil); loaded {
		return ErrAlreadySubscribed
	}

	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		m.deliver(msg, handler)
	})
	if err != nil {
		m.subs.Delete(subject)
		m.logger.Error("Subscribe failed", "subject", subject, "error", err)
		return errors.WrapTransient(err, "Client", "Subscribe", fmt.Sprintf("subscribe to %s", subject))
	}

	m.subs.Store(subject, sub)
	m.logger.Debug("Subscribed", "subject", subject)
	return nil
}

func (m *Client) deliver(msg *nats.Msg, handler Handler) {
	var payload any
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		m.metrics.RecordMalformed()
		m.logger.Error("Dropping malformed message",
			"subject", msg.Subject,
			"size", len(msg.Data),
			"error", err)
		return
	}

	m.metrics.RecordReceived(SubjectKind(msg.Subject))
	handler(msg.Subject, payload)
}

// Unsubscribe removes the subscription for subject
func (m *Client) Unsubscribe(subject string) error {
	sub, ok := m.subs.LoadAndDelete(subject)
	if !ok {
		return ErrUnknownSubscription
	}
	if sub == nil {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
		return errors.Wrap(err, "Client", "Unsubscribe", fmt.Sprintf("unsubscribe from %s", subject))
	}
	m.logger.Debug("Unsubscribed", "subject", subject)
	return nil
}

// HasSubscription reports whether subject currently has a subscription
func (m *Client) HasSubscription(subject string) bool {
	_, ok := m.subs.Load(subject)
	return ok
}

// Close unsubscribes everything and drains the connection. Safe to call more than once.
func (m *Client) Close(ctx context.Context) error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()

	if m.closed.Load() {
		return nil
	}
	m.closed.Store(true)

	var errs []error

	m.subs.Range(func(subject string, sub *nats.Subscription) bool {
		m.subs.Delete(subject)
		if sub == nil {
			return true
		}
		if err := sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe "+subject))
		}
		return true
	})

	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.js = nil
	m.username = ""
	m.password = ""
	m.token = ""
	m.mu.Unlock()

	if conn != nil {
		drainTimeout := m.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
				drainTimeout = remaining
			}
		}

		drainDone := make(chan error, 1)
		go func() {
			drainDone <- conn.Drain()
		}()

		timer := time.NewTimer(drainTimeout)
		select {
		case err := <-drainDone:
			if err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
				errs = append(errs, errors.Wrap(err, "Client", "Close", "drain connection"))
			}
		case <-timer.C:
			errs = append(errs, errors.WrapTransient(
				fmt.Errorf("drain timeout after %v", drainTimeout),
				"Client", "Close", "drain connection"))
		case <-ctx.Done():
			errs = append(errs, errors.Wrap(ctx.Err(), "Client", "Close", "drain connection"))
		}
		timer.Stop()

		conn.Close()
	}

	m.setStatus(StatusDisconnected)
	m.logger.Info("NATS client closed")

	if err := stderrors.Join(errs...); err != nil {
		m.logger.Error("NATS close finished with errors", "error", err)
		return err
	}
	return nil
}

// RTT returns the round-trip time to the NATS server
func (m *Client) RTT() (time.Duration, error) {
	conn, err := m.connected()
	if err != nil {
		return 0, err
	}
	return conn.RTT()
}

// JetStream returns the JetStream context
func (m *Client) JetStream() (jetstream.JetStream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.conn == nil {
		return nil, ErrNotConnected
	}
	if m.js == nil {
		return nil, errors.WrapTransient(stderrors.New("jetstream not initialized"),
			"Client", "JetStream", "get jetstream context")
	}
	return m.js, nil
}

func (m *Client) notifyHealth(healthy bool) {
	m.mu.RLock()
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()

	if onHealthChange != nil {
		go onHealthChange(healthy)
	}
}

func (m *Client) handleDisconnect(_ *nats.Conn, err error) {
	if m.closed.Load() {
		return
	}
	m.setStatus(StatusReconnecting)
	m.logger.Warn("Disconnected from NATS", "error", err)
	m.notifyHealth(false)
}

func (m *Client) handleReconnect(conn *nats.Conn) {
	m.setStatus(StatusConnected)
	m.logger.Info("Reconnected to NATS", "url", conn.ConnectedUrl())
	m.notifyHealth(true)
}

func (m *Client) handleClosed(_ *nats.Conn) {
	m.setStatus(StatusDisconnected)
	m.notifyHealth(false)
}

func (m *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if sub != nil {
		m.logger.Error("NATS error", "subject", sub.Subject, "error", err)
		return
	}
	m.logger.Error("NATS error", "error", err)
}

// SubjectKind returns the first token of a subject, used as a metric label.
func SubjectKind(subject string) string {
	if i := strings.IndexByte(subject, '.'); i >= 0 {
		return subject[:i]
	}
	return subject
}
