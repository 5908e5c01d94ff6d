package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360/mathgate/correlation"
	"github.com/c360/mathgate/errors"
	"github.com/c360/mathgate/metric"
	"github.com/c360/mathgate/natsclient"
)

// Round-trip abort reasons
var (
	ErrBackendUnavailable = errors.ErrBackendUnavailable
	ErrBackendRestarted   = stderrors.New("backend restarted")
	ErrCancelled          = stderrors.New("request cancelled")
	ErrInProgress         = stderrors.New("request already in progress")
	ErrIDExhausted        = stderrors.New("could not allocate a unique correlation id")
)

// DefaultPollInterval is how often a waiting round trip re-checks liveness
const DefaultPollInterval = time.Second

const maxIDAttempts = 5

// Transport publishes and subscribes JSON payloads by subject
type Transport interface {
	Publish(ctx context.Context, subject string, payload any) error
	Subscribe(ctx context.Context, subject string, handler natsclient.Handler) error
	Unsubscribe(subject string) error
}

// Liveness reports backend health and its startup epoch
type Liveness interface {
	IsAlive() bool
	Epoch() uint64
}

// Exchange describes one request/response pair of subjects
type Exchange struct {
	RequestSubject  string
	ResponseSubject string
	Payload         any
}

// Orchestrator turns client calls into bus round trips.
type Orchestrator struct {
	transport    Transport
	store        *correlation.Store
	liveness     Liveness
	ids          *correlation.IDGenerator
	pollInterval time.Duration
	logger       *slog.Logger
	metrics      *metric.Metrics
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithIDGenerator replaces the default wall-clock ID generator
func WithIDGenerator(g *correlation.IDGenerator) Option {
	return func(o *Orchestrator) {
		if g != nil {
			o.ids = g
		}
	}
}

// WithPollInterval sets the liveness re-check cadence of a waiting round trip
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records round-trip outcomes into m
func WithMetrics(m *metric.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// New creates an Orchestrator
func New(transport Transport, store *correlation.Store, liveness Liveness, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		transport:    transport,
		store:        store,
		liveness:     liveness,
		ids:          correlation.NewIDGenerator(nil, nil),
		pollInterval: DefaultPollInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "bridge")
	return o
}

// Start registers a job and publishes body on Start.<id>.
func (o *Orchestrator) Start(ctx context.Context, body []byte) Reply {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ErrorReply{Error: DescEmptyBody}
	}
	if !json.Valid(body) {
		return ErrorReply{Error: DescInvalidJSON}
	}
	if !o.liveness.IsAlive() {
		return NewEnvelope(0, "", StatusError, DescUnavailable)
	}

	id, query, err := o.allocate()
	if err != nil {
		o.logger.Error("Failed to register job", "error", err)
		return NewEnvelope(0, "", StatusError, DescIDExhausted)
	}

	if err := o.transport.Publish(ctx, StartSubject(id), json.RawMessage(body)); err != nil {
		o.store.RemovePair(id)
		o.logger.Error("Failed to publish job", "query", query, "id", id, "error", err)
		return NewEnvelope(query, id, StatusError, DescPublishFailed)
	}

	o.logger.Info("Job buffered", "query", query, "id", id, "size", len(body))
	return NewEnvelope(query, id, StatusOk, DescBuffered)
}

func (o *Orchestrator) allocate() (string, int, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := o.ids.Next()
		query, err := o.store.NextQuery(id)
		if stderrors.Is(err, correlation.ErrDuplicateID) {
			continue
		}
		return id, query, err
	}
	return "", 0, ErrIDExhausted
}

// Poll waits for the state of query. A terminal answer removes the pair,
// so a query can be polled to completion only once.
func (o *Orchestrator) Poll(ctx context.Context, query int) Reply {
	if query <= 0 {
		return ErrorReply{Error: DescInvalidQuery}
	}
	if !o.liveness.IsAlive() {
		o.metrics.RecordPollOutcome("unavailable")
		return NewEnvelope(query, "", StatusError, DescUnavailable)
	}

	// a startup landing after this read aborts the wait even if the pair is still present
	epoch := o.liveness.Epoch()
	id := o.store.GetID(query)
	if id == "" {
		return NewEnvelope(query, "", StatusError, DescUnknownQuery)
	}

	payload, err := o.roundTrip(ctx, Exchange{
		RequestSubject:  StateRequestSubject(id),
		ResponseSubject: StateResponseSubject(id),
		Payload:         map[string]string{"id": id},
	}, epoch)
	switch {
	case err == nil:
		o.store.RemovePair(id)
		return normalizeState(query, id, payload)
	case stderrors.Is(err, ErrBackendUnavailable):
		o.store.RemovePair(id)
		return NewEnvelope(query, id, StatusError, DescUnavailable)
	case stderrors.Is(err, ErrBackendRestarted):
		o.store.RemovePair(id)
		return NewEnvelope(query, id, StatusError, DescRestarted)
	default:
		// pair kept: the result may still be retrievable
		return NewEnvelope(query, id, StatusError, describe(err, DescInProgress))
	}
}

// LogsList asks MathCore for its log file names
func (o *Orchestrator) LogsList(ctx context.Context) Reply {
	if !o.liveness.IsAlive() {
		return ErrorReply{Error: DescUnavailable}
	}

	payload, err := o.RoundTrip(ctx, Exchange{
		RequestSubject:  subjectLogsListRequest,
		ResponseSubject: subjectLogsListResponse,
		Payload:         map[string]any{},
	})
	if err != nil {
		return ErrorReply{Error: describe(err, "Log list request already in progress")}
	}
	return payload
}

// GetLog fetches one log file from MathCore
func (o *Orchestrator) GetLog(ctx context.Context, id string) Reply {
	if !validToken(id) {
		return ErrorReply{Error: DescInvalidLogID}
	}
	if !o.liveness.IsAlive() {
		return ErrorReply{Error: DescUnavailable}
	}

	payload, err := o.RoundTrip(ctx, Exchange{
		RequestSubject:  GetLogRequestSubject(id),
		ResponseSubject: GetLogResponseSubject(id),
		Payload:         map[string]string{"id": id},
	})
	if err != nil {
		return ErrorReply{Error: describe(err, "Log request already in progress")}
	}
	return payload
}

// RoundTrip subscribes to the response subject, publishes the request and
// waits for the first response. The wait ends early when the backend becomes
// unavailable, its startup epoch changes, or ctx is done. The subscription is
// always removed before returning.
func (o *Orchestrator) RoundTrip(ctx context.Context, ex Exchange) (any, error) {
	return o.roundTrip(ctx, ex, o.liveness.Epoch())
}

// roundTrip treats any epoch other than epoch as a restart
func (o *Orchestrator) roundTrip(ctx context.Context, ex Exchange, epoch uint64) (any, error) {
	pending := make(chan any, 1)
	err := o.transport.Subscribe(ctx, ex.ResponseSubject, func(_ string, payload any) {
		select {
		case pending <- payload:
		default:
		}
	})
	if err != nil {
		if stderrors.Is(err, natsclient.ErrAlreadySubscribed) {
			o.metrics.RecordPollOutcome("in_progress")
			return nil, ErrInProgress
		}
		o.metrics.RecordPollOutcome("subscribe_failed")
		return nil, fmt.Errorf("%w: %w", errors.ErrSubscriptionFailed, err)
	}
	defer func() {
		if err := o.transport.Unsubscribe(ex.ResponseSubject); err != nil {
			o.logger.Warn("Failed to unsubscribe", "subject", ex.ResponseSubject, "error", err)
		}
	}()

	if err := o.transport.Publish(ctx, ex.RequestSubject, ex.Payload); err != nil {
		o.metrics.RecordPollOutcome("publish_failed")
		return nil, fmt.Errorf("%w: %w", errors.ErrPublishFailed, err)
	}

	timer := time.NewTimer(o.pollInterval)
	defer timer.Stop()

	for {
		select {
		case payload := <-pending:
			o.metrics.RecordPollOutcome("response")
			return payload, nil
		case <-ctx.Done():
			o.metrics.RecordPollOutcome("cancelled")
			o.logger.Debug("Round trip cancelled", "subject", ex.ResponseSubject)
			return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		case <-timer.C:
			if o.liveness.Epoch() != epoch {
				o.metrics.RecordPollOutcome("restarted")
				o.logger.Warn("MathCore restarted during round trip", "subject", ex.ResponseSubject)
				return nil, ErrBackendRestarted
			}
			if !o.liveness.IsAlive() {
				o.metrics.RecordPollOutcome("unavailable")
				o.logger.Warn("MathCore unavailable during round trip", "subject", ex.ResponseSubject)
				return nil, ErrBackendUnavailable
			}
			timer.Reset(o.pollInterval)
		}
	}
}

func describe(err error, inProgress string) string {
	switch {
	case stderrors.Is(err, ErrBackendUnavailable):
		return DescUnavailable
	case stderrors.Is(err, ErrBackendRestarted):
		return DescRestarted
	case stderrors.Is(err, ErrCancelled):
		return DescCancelled
	case stderrors.Is(err, ErrInProgress):
		return inProgress
	case stderrors.Is(err, errors.ErrSubscriptionFailed):
		return DescSubscribeFailed
	default:
		return DescPublishFailed
	}
}

// validToken reports whether s can be used as a single subject token
func validToken(s string) bool {
	return s != "" && !strings.ContainsAny(s, ".*> \t\r\n")
}
