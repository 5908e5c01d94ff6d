package correlation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/mathgate/metric"
)

type failingBackend struct {
	mu    sync.Mutex
	saves int
}

func (f *failingBackend) Load() ([]Pair, error) { return nil, nil }

func (f *failingBackend) Save([]Pair) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return errors.New("disk full")
}

type memoryBackend struct {
	mu    sync.Mutex
	pairs []Pair
	err   error
}

func (m *memoryBackend) Load() ([]Pair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pairs, m.err
}

func (m *memoryBackend) Save(pairs []Pair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs = pairs
	return nil
}

func newFileStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "query_state.json")
	return NewStore(NewFileBackend(path)), path
}

func TestStore_NextQueryIncrements(t *testing.T) {
	store, _ := newFileStore(t)

	q1, err := store.NextQuery("20240101_120000")
	require.NoError(t, err)
	q2, err := store.NextQuery("20240101_120001")
	require.NoError(t, err)

	assert.Equal(t, 1, q1)
	assert.Equal(t, 2, q2)
	assert.Equal(t, "20240101_120000", store.GetID(1))
	assert.Equal(t, "20240101_120001", store.GetID(2))
	assert.Equal(t, "", store.GetID(3))
	assert.Equal(t, 2, store.Len())
}

func TestStore_NextQueryRejects(t *testing.T) {
	store, _ := newFileStore(t)

	_, err := store.NextQuery("")
	assert.ErrorIs(t, err, ErrEmptyID)

	_, err = store.NextQuery("a")
	require.NoError(t, err)
	_, err = store.NextQuery("a")
	assert.ErrorIs(t, err, ErrDuplicateID)

	// rejected calls do not consume numbers
	q, err := store.NextQuery("b")
	require.NoError(t, err)
	assert.Equal(t, 2, q)
}

func TestStore_RemovePair(t *testing.T) {
	store, _ := newFileStore(t)

	_, _ = store.NextQuery("a")
	_, _ = store.NextQuery("b")

	store.RemovePair("a")
	store.RemovePair("a")
	store.RemovePair("")
	store.RemovePair("unknown")

	assert.Equal(t, "", store.GetID(1))
	assert.Equal(t, "b", store.GetID(2))

	// numbers are not reused after removal
	q, err := store.NextQuery("c")
	require.NoError(t, err)
	assert.Equal(t, 3, q)
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	store, path := newFileStore(t)

	for _, id := range []string{"a", "b", "c"} {
		_, err := store.NextQuery(id)
		require.NoError(t, err)
	}
	store.RemovePair("b")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"a","query":1},{"id":"c","query":3}]`, string(data))

	reloaded := NewStore(NewFileBackend(path))
	want := []Pair{{ID: "a", Query: 1}, {ID: "c", Query: 3}}
	if diff := cmp.Diff(want, reloaded.Snapshot()); diff != "" {
		t.Errorf("reloaded snapshot mismatch (-want +got):\n%s", diff)
	}

	// the counter resumes from the largest persisted query
	q, err := reloaded.NextQuery("d")
	require.NoError(t, err)
	assert.Equal(t, 4, q)
}

func TestStore_LoadSortsAndSkipsInvalid(t *testing.T) {
	backend := &memoryBackend{pairs: []Pair{
		{ID: "c", Query: 7},
		{ID: "", Query: 3},
		{ID: "a", Query: 2},
		{ID: "neg", Query: -1},
		{ID: "a", Query: 9},
	}}
	store := NewStore(backend)

	want := []Pair{{ID: "a", Query: 2}, {ID: "c", Query: 7}}
	if diff := cmp.Diff(want, store.Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	q, err := store.NextQuery("x")
	require.NoError(t, err)
	assert.Equal(t, 8, q)
}

func TestStore_CorruptSnapshotStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "query_state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store := NewStore(NewFileBackend(path))
	store.EnsureLoaded()
	assert.Equal(t, 0, store.Len())

	q, err := store.NextQuery("a")
	require.NoError(t, err)
	assert.Equal(t, 1, q)
}

func TestStore_LoadErrorStartsEmpty(t *testing.T) {
	store := NewStore(&memoryBackend{err: errors.New("bucket offline")})
	assert.Equal(t, 0, store.Len())
}

func TestStore_EnsureLoadedOnce(t *testing.T) {
	backend := &memoryBackend{pairs: []Pair{{ID: "a", Query: 1}}}
	store := NewStore(backend)
	store.EnsureLoaded()

	backend.pairs = []Pair{{ID: "zzz", Query: 50}}
	store.EnsureLoaded()

	assert.Equal(t, "a", store.GetID(1))
	assert.Equal(t, "", store.GetID(50))
}

func TestStore_ClearThroughKeepsCounter(t *testing.T) {
	m := metric.NewMetrics()
	backend := &memoryBackend{}
	store := NewStore(backend, WithMetrics(m))

	_, _ = store.NextQuery("a")
	_, _ = store.NextQuery("b")
	assert.Equal(t, 2, store.Watermark())
	assert.Equal(t, 2.0, promtest.ToFloat64(m.CorrelationsOutstanding))

	assert.Equal(t, 2, store.ClearThrough(store.Watermark()))
	assert.Equal(t, 0, store.Len())
	assert.Empty(t, backend.pairs)
	assert.Equal(t, 0.0, promtest.ToFloat64(m.CorrelationsOutstanding))

	q, err := store.NextQuery("c")
	require.NoError(t, err)
	assert.Equal(t, 3, q)
	assert.Equal(t, 3, store.Watermark())
}

func TestStore_ClearThroughSparesLaterPairs(t *testing.T) {
	backend := &memoryBackend{}
	store := NewStore(backend)

	_, _ = store.NextQuery("a")
	mark := store.Watermark()
	// issued between the watermark and the clear
	_, _ = store.NextQuery("b")

	assert.Equal(t, 1, store.ClearThrough(mark))
	assert.Equal(t, []Pair{{ID: "b", Query: 2}}, store.Snapshot())
	assert.Equal(t, []Pair{{ID: "b", Query: 2}}, backend.pairs)
	assert.Equal(t, 0, store.ClearThrough(mark))
}

func TestStore_PersistFailureIsNotFatal(t *testing.T) {
	m := metric.NewMetrics()
	backend := &failingBackend{}
	store := NewStore(backend, WithMetrics(m))

	q, err := store.NextQuery("a")
	require.NoError(t, err)
	assert.Equal(t, 1, q)
	assert.Equal(t, "a", store.GetID(1))

	store.RemovePair("a")
	assert.Equal(t, 2, backend.saves)
	assert.Equal(t, 2.0, promtest.ToFloat64(m.PersistErrors))
}

func TestStore_InMemoryOnly(t *testing.T) {
	store := NewStore(nil)
	q, err := store.NextQuery("a")
	require.NoError(t, err)
	assert.Equal(t, 1, q)
}

func TestStore_ConcurrentNextQueryUnique(t *testing.T) {
	store := NewStore(&memoryBackend{})

	const workers = 16
	const perWorker = 25

	var wg sync.WaitGroup
	results := make(chan int, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				q, err := store.NextQuery(fmt.Sprintf("id-%d-%d", w, i))
				if err == nil {
					results <- q
				}
			}
		}(w)
	}
	wg.Wait()
	close(results)

	seen := make(map[int]bool)
	for q := range results {
		assert.False(t, seen[q], "query %d issued twice", q)
		seen[q] = true
	}
	assert.Len(t, seen, workers*perWorker)

	snap := store.Snapshot()
	for i := 1; i < len(snap); i++ {
		assert.Less(t, snap[i-1].Query, snap[i].Query)
	}
}
