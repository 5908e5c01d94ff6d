package correlation

import (
	stderrors "errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/c360/mathgate/metric"
)

// Sentinel errors returned by NextQuery
var (
	ErrEmptyID     = stderrors.New("correlation id is empty")
	ErrDuplicateID = stderrors.New("correlation id already registered")
)

// Pair binds a client-facing query number to a bus correlation ID.
type Pair struct {
	ID    string `json:"id"`
	Query int    `json:"query"`
}

// Store holds outstanding query to ID pairs. Every mutation rewrites the
// snapshot through the Backend while the store lock is held.
type Store struct {
	mu      sync.Mutex
	backend Backend
	logger  *slog.Logger
	metrics *metric.Metrics

	loaded  bool
	counter int
	pairs   []Pair // ascending by Query
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records outstanding pairs and persist failures into m
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// NewStore creates a store persisting through backend. A nil backend keeps
// state in memory only.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "correlation")
	return s
}

// EnsureLoaded reads the snapshot once. A missing or unreadable snapshot
// yields an empty store.
func (s *Store) EnsureLoaded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()
}

func (s *Store) ensureLoadedLocked() {
	if s.loaded {
		return
	}
	s.loaded = true

	if s.backend == nil {
		return
	}

	pairs, err := s.backend.Load()
	if err != nil {
		s.logger.Error("Failed to load correlation snapshot, starting empty", "error", err)
		return
	}

	seen := make(map[string]bool, len(pairs))
	skipped := 0
	for _, p := range pairs {
		if p.ID == "" || p.Query <= 0 || seen[p.ID] {
			skipped++
			continue
		}
		seen[p.ID] = true
		s.pairs = append(s.pairs, p)
		s.counter = max(s.counter, p.Query)
	}
	slices.SortFunc(s.pairs, func(a, b Pair) int { return a.Query - b.Query })

	if skipped > 0 {
		s.logger.Warn("Skipped invalid snapshot entries", "skipped", skipped)
	}
	s.logger.Info("Loaded correlation snapshot", "pairs", len(s.pairs), "counter", s.counter)
	s.metrics.RecordOutstanding(len(s.pairs))
}

// NextQuery assigns the next query number to id and persists the result.
func (s *Store) NextQuery(id string) (int, error) {
	if id == "" {
		return 0, ErrEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	if s.indexOfLocked(id) >= 0 {
		return 0, ErrDuplicateID
	}

	s.counter++
	s.pairs = append(s.pairs, Pair{ID: id, Query: s.counter})
	s.persistLocked()

	return s.counter, nil
}

// GetID returns the ID for query, or "" if none is outstanding.
func (s *Store) GetID(query int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	for _, p := range s.pairs {
		if p.Query == query {
			return p.ID
		}
	}
	return ""
}

// RemovePair drops the pair for id. Unknown or empty ids are ignored.
func (s *Store) RemovePair(id string) {
	if id == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	i := s.indexOfLocked(id)
	if i < 0 {
		return
	}
	s.pairs = slices.Delete(s.pairs, i, i+1)
	s.persistLocked()
}

// Watermark returns the last query number issued
func (s *Store) Watermark() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()
	return s.counter
}

// ClearThrough drops every pair whose query is at or below watermark and
// returns how many were dropped. Pairs issued after the watermark survive.
// The counter keeps its value so query numbers are never reused.
func (s *Store) ClearThrough(watermark int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	n := len(s.pairs)
	s.pairs = slices.DeleteFunc(s.pairs, func(p Pair) bool { return p.Query <= watermark })
	dropped := n - len(s.pairs)
	if dropped == 0 {
		return 0
	}
	s.persistLocked()

	s.logger.Info("Cleared outstanding correlations", "dropped", dropped, "watermark", watermark)
	return dropped
}

// Snapshot returns a copy of the outstanding pairs ordered by query.
func (s *Store) Snapshot() []Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()
	return slices.Clone(s.pairs)
}

// Len returns the number of outstanding pairs
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()
	return len(s.pairs)
}

func (s *Store) indexOfLocked(id string) int {
	return slices.IndexFunc(s.pairs, func(p Pair) bool { return p.ID == id })
}

// persistLocked never fails the caller; a write error only means the
// snapshot on disk lags the in-memory state.
func (s *Store) persistLocked() {
	s.metrics.RecordOutstanding(len(s.pairs))

	if s.backend == nil {
		return
	}
	if err := s.backend.Save(slices.Clone(s.pairs)); err != nil {
		s.metrics.RecordPersistError()
		s.logger.Error("Failed to persist correlation snapshot", "pairs", len(s.pairs), "error", err)
	}
}
