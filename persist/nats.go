package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/hpcoord/ensemble/internal/natsutil"
)

// DefaultBucket is the JetStream KV bucket used when none is configured.
const DefaultBucket = "ensemble-checkpoint"

// saveAttempts bounds Save retries on connectivity errors.
const saveAttempts = 3

// NATSStore persists checkpoints in a NATS JetStream key-value bucket, so a
// resumed run can pick up its ledger from any machine with access to the
// cluster.
type NATSStore struct {
	kv jetstream.KeyValue
}

// Compile-time assertion that NATSStore implements Store.
var _ Store = (*NATSStore)(nil)

// NewNATSStore creates a KV-backed checkpoint store, creating or opening the
// bucket as needed.
//
// Parameters:
//   - ctx: Context for bucket creation
//   - nc: NATS connection with JetStream enabled
//   - bucket: KV bucket name (DefaultBucket if empty)
//
// Returns:
//   - *NATSStore: Initialized store
//   - error: JetStream or bucket creation failure
//
// Example:
//
//	store, err := persist.NewNATSStore(ctx, nc, "")
//	if err != nil {
//	    return err
//	}
//	mgr, err := ensemble.NewManager(&cfg, ep, schema, policy,
//	    ensemble.WithCheckpointStore(store),
//	)
func NewNATSStore(ctx context.Context, nc *nats.Conn, bucket string) (*NATSStore, error) {
	if nc == nil {
		return nil, errors.New("NATS connection is required")
	}
	if bucket == "" {
		bucket = DefaultBucket
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	cfg := jetstream.KeyValueConfig{
		Bucket:  bucket,
		History: 1, // Keep only the latest checkpoint
	}
	kv, err := openBucket(ctx, js, cfg)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint bucket %s: %w", bucket, err)
	}

	return &NATSStore{kv: kv}, nil
}

// openBucket creates the checkpoint bucket or opens it if it already exists.
//
// A manager resuming a run and tooling inspecting checkpoints may open the
// same bucket at the same time, so create-then-open is raced deliberately
// and transient JetStream errors are retried with backoff.
func openBucket(ctx context.Context, js jetstream.JetStream, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	const attempts = 5

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(1<<uint(attempt-1)) * 10 * time.Millisecond): //nolint:gosec // attempt < 5
			}
		}

		kv, err := js.CreateKeyValue(ctx, cfg)
		if err == nil {
			return kv, nil
		}
		if errors.Is(err, jetstream.ErrBucketExists) {
			kv, err = js.KeyValue(ctx, cfg.Bucket)
			if err == nil {
				return kv, nil
			}
			lastErr = fmt.Errorf("bucket exists but would not open: %w", err)
		} else {
			lastErr = err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

// Save writes the checkpoint for runID. KV puts are atomic per key.
//
// Transient connectivity failures are retried with backoff; a checkpoint
// lost to a network blip would silently shrink the resume point.
func (s *NATSStore) Save(ctx context.Context, runID string, data []byte) error {
	var lastErr error
	for attempt := 0; attempt < saveAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}
		_, err := s.kv.Put(ctx, runID, data)
		if err == nil {
			return nil
		}
		lastErr = err
		if !natsutil.IsConnectivityError(err) {
			break
		}
	}

	return fmt.Errorf("put checkpoint %s: %w", runID, lastErr)
}

// Load returns the latest checkpoint for runID.
func (s *NATSStore) Load(ctx context.Context, runID string) ([]byte, error) {
	entry, err := s.kv.Get(ctx, runID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint %s: %w", runID, err)
	}

	return entry.Value(), nil
}

// Delete removes the checkpoint for runID.
func (s *NATSStore) Delete(ctx context.Context, runID string) error {
	err := s.kv.Delete(ctx, runID)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete checkpoint %s: %w", runID, err)
	}

	return nil
}
