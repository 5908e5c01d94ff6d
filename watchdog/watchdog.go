package watchdog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/c360/mathgate/errors"
	"github.com/c360/mathgate/metric"
	"github.com/c360/mathgate/natsclient"
)

// Defaults
const (
	DefaultSubject = "IsMathAlive.*"
	DefaultTimeout = 60 * time.Second
)

// Subscriber is the slice of the transport the watchdog needs
type Subscriber interface {
	Subscribe(ctx context.Context, subject string, handler natsclient.Handler) error
}

// Watchdog tracks backend liveness from heartbeats. Liveness is evaluated
// lazily when IsAlive is called; there is no background timer.
type Watchdog struct {
	sub     Subscriber
	subject string
	timeout time.Duration
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metric.Metrics

	beforeStartup func()
	onStartup     func()

	mu            sync.Mutex
	started       bool
	alive         bool
	lastHeartbeat time.Time
	epoch         uint64
}

// Option configures a Watchdog
type Option func(*Watchdog)

// WithTimeout sets how long the backend may stay silent before it is unavailable
func WithTimeout(d time.Duration) Option {
	return func(w *Watchdog) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithSubject sets the heartbeat subject pattern
func WithSubject(subject string) Option {
	return func(w *Watchdog) {
		if subject != "" {
			w.subject = subject
		}
	}
}

// WithClock replaces the wall clock
func WithClock(c clock.Clock) Option {
	return func(w *Watchdog) {
		if c != nil {
			w.clock = c
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watchdog) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics records liveness into m
func WithMetrics(m *metric.Metrics) Option {
	return func(w *Watchdog) {
		w.metrics = m
	}
}

// BeforeStartup registers fn to run when a startup announcement arrives,
// before the epoch advances. It is called without the watchdog lock held.
func BeforeStartup(fn func()) Option {
	return func(w *Watchdog) {
		w.beforeStartup = fn
	}
}

// OnStartup registers fn to run after each startup announcement.
// It is called without the watchdog lock held.
func OnStartup(fn func()) Option {
	return func(w *Watchdog) {
		w.onStartup = fn
	}
}

// New creates a watchdog listening through sub
func New(sub Subscriber, opts ...Option) *Watchdog {
	w := &Watchdog{
		sub:     sub,
		subject: DefaultSubject,
		timeout: DefaultTimeout,
		clock:   clock.New(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "watchdog")
	return w
}

// Start subscribes to heartbeats and marks the backend alive. Later calls
// are no-ops. If the subscription fails the watchdog stays unstarted.
func (w *Watchdog) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return nil
	}

	if err := w.sub.Subscribe(ctx, w.subject, w.handleHeartbeat); err != nil {
		w.logger.Error("Failed to subscribe to heartbeats", "subject", w.subject, "error", err)
		return errors.WrapTransient(err, "Watchdog", "Start", "subscribe to "+w.subject)
	}

	w.started = true
	w.alive = true
	w.lastHeartbeat = w.clock.Now()
	w.metrics.RecordBackendAlive(true)

	w.logger.Info("Watchdog started", "subject", w.subject, "timeout", w.timeout)
	return nil
}

// handleHeartbeat accepts any JSON value as a heartbeat. Only an object with
// event "startup" announces a restart.
func (w *Watchdog) handleHeartbeat(subject string, payload any) {
	obj, _ := payload.(map[string]any)
	startup := obj["event"] == "startup"
	if startup && w.beforeStartup != nil {
		w.beforeStartup()
	}

	w.mu.Lock()
	wasAlive := w.alive
	w.alive = true
	w.lastHeartbeat = w.clock.Now()
	if startup {
		w.epoch++
	}
	epoch := w.epoch
	w.mu.Unlock()

	w.metrics.RecordHeartbeat()
	if !wasAlive {
		w.logger.Info("MathCore is available again", "subject", subject)
	}

	if !startup {
		return
	}

	w.metrics.RecordStartupEpoch(epoch)
	w.logger.Warn("MathCore startup announced", "subject", subject, "epoch", epoch)
	if w.onStartup != nil {
		w.onStartup()
	}
}

// IsAlive reports whether a heartbeat arrived within the timeout window.
// An unstarted watchdog reports false.
func (w *Watchdog) IsAlive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return false
	}

	if w.alive {
		silence := w.clock.Since(w.lastHeartbeat)
		if silence > w.timeout {
			w.alive = false
			w.metrics.RecordBackendAlive(false)
			w.logger.Warn("MathCore is unavailable",
				"last_heartbeat", w.lastHeartbeat,
				"silence", silence.String())
		}
	}
	return w.alive
}

// Epoch returns the number of startup announcements seen
func (w *Watchdog) Epoch() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.epoch
}

// LastHeartbeat returns when the backend was last heard from
func (w *Watchdog) LastHeartbeat() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastHeartbeat
}

// Started reports whether Start has succeeded
func (w *Watchdog) Started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}
