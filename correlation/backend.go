package correlation

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/mathgate/errors"
	"github.com/c360/mathgate/natsclient"
)

// Backend loads and saves the full snapshot. Load returns an empty slice,
// not an error, when nothing has been saved yet.
type Backend interface {
	Load() ([]Pair, error)
	Save(pairs []Pair) error
}

// DefaultSnapshotFile is the snapshot path used when none is configured
const DefaultSnapshotFile = "query_state.json"

// FileBackend keeps the snapshot as a JSON array in a single file.
type FileBackend struct {
	Path string
}

// NewFileBackend creates a file backend for path
func NewFileBackend(path string) *FileBackend {
	if path == "" {
		path = DefaultSnapshotFile
	}
	return &FileBackend{Path: path}
}

// Load reads the snapshot file. A missing file is an empty snapshot.
func (b *FileBackend) Load() ([]Pair, error) {
	data, err := os.ReadFile(b.Path)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "FileBackend", "Load", "read "+b.Path)
	}
	return decodeSnapshot(data, "FileBackend")
}

// Save writes the snapshot to a temp file in the same directory and renames it over Path.
func (b *FileBackend) Save(pairs []Pair) error {
	data, err := encodeSnapshot(pairs)
	if err != nil {
		return err
	}

	dir := filepath.Dir(b.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WrapTransient(err, "FileBackend", "Save", "create directory")
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(b.Path)+".*.tmp")
	if err != nil {
		return errors.WrapTransient(err, "FileBackend", "Save", "create temp file")
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return errors.WrapTransient(err, "FileBackend", "Save", "write temp file")
	}

	if err := os.Rename(tmpName, b.Path); err != nil {
		_ = os.Remove(tmpName)
		return errors.WrapTransient(err, "FileBackend", "Save", "replace snapshot")
	}
	return nil
}

// DefaultKVBucket is the bucket used by the KV backend when none is configured
const DefaultKVBucket = "mathgate-correlations"

const kvSnapshotKey = "snapshot"

// KVBackend keeps the snapshot under one key of a JetStream KV bucket.
type KVBackend struct {
	kv      jetstream.KeyValue
	key     string
	timeout time.Duration
}

// NewKVBackend stores the snapshot in kv
func NewKVBackend(kv jetstream.KeyValue) *KVBackend {
	return &KVBackend{
		kv:      kv,
		key:     kvSnapshotKey,
		timeout: 5 * time.Second,
	}
}

// Load reads the snapshot key. A missing key is an empty snapshot.
func (b *KVBackend) Load() ([]Pair, error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	entry, err := b.kv.Get(ctx, b.key)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "KVBackend", "Load", "get "+b.key)
	}
	return decodeSnapshot(entry.Value(), "KVBackend")
}

// Save overwrites the snapshot key
func (b *KVBackend) Save(pairs []Pair) error {
	data, err := encodeSnapshot(pairs)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if _, err := b.kv.Put(ctx, b.key, data); err != nil {
		return errors.WrapTransient(err, "KVBackend", "Save", "put "+b.key)
	}
	return nil
}

func encodeSnapshot(pairs []Pair) ([]byte, error) {
	if pairs == nil {
		pairs = []Pair{}
	}
	data, err := json.MarshalIndent(pairs, "", "  ")
	if err != nil {
		return nil, errors.WrapInvalid(err, "Snapshot", "Encode", "marshal pairs")
	}
	return data, nil
}

func decodeSnapshot(data []byte, component string) ([]Pair, error) {
	var pairs []Pair
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %w", errors.ErrDataCorrupted, err),
			component, "Load", "decode snapshot")
	}
	return pairs, nil
}
