package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/mathgate/errors"
)

// KeyValue opens bucket, creating it with a single-revision history if missing.
func (m *Client) KeyValue(ctx context.Context, bucket string) (jetstream.KeyValue, error) {
	if m.Status() != StatusConnected {
		return nil, ErrNotConnected
	}

	js, err := m.JetStream()
	if err != nil {
		return nil, err
	}

	kv, err := js.KeyValue(ctx, bucket)
	if err == nil {
		m.logger.Debug("Using existing KV bucket", "bucket", bucket)
		return kv, nil
	}
	if !stderrors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, errors.WrapTransient(err, "Client", "KeyValue", fmt.Sprintf("open bucket %s", bucket))
	}

	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "mathgate correlation snapshot",
		History:     1,
	})
	if err != nil {
		if isAlreadyExistsError(err) {
			// lost a creation race with another gateway
			kv, err = js.KeyValue(ctx, bucket)
			if err == nil {
				return kv, nil
			}
		}
		return nil, errors.WrapTransient(err, "Client", "KeyValue", fmt.Sprintf("create bucket %s", bucket))
	}

	m.logger.Info("Created KV bucket", "bucket", bucket)
	return kv, nil
}

// IsKVNotFoundError reports whether err means the key does not exist
func IsKVNotFoundError(err error) bool {
	return stderrors.Is(err, jetstream.ErrKeyNotFound) || stderrors.Is(err, jetstream.ErrKeyDeleted)
}

func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, jetstream.ErrBucketExists) || stderrors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}
