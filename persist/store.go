package persist

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when no checkpoint exists for the run.
var ErrNotFound = errors.New("checkpoint not found")

// Store persists opaque checkpoint blobs keyed by run id.
//
// Implementations must make Save atomic: a concurrent Load observes either
// the previous checkpoint or the new one, never a partial write.
type Store interface {
	// Save writes the checkpoint for runID, replacing any previous one.
	Save(ctx context.Context, runID string, data []byte) error

	// Load returns the latest checkpoint for runID.
	//
	// Returns ErrNotFound (wrapped) when the run has no checkpoint.
	Load(ctx context.Context, runID string) ([]byte, error)

	// Delete removes the checkpoint for runID. Deleting a missing
	// checkpoint is not an error.
	Delete(ctx context.Context, runID string) error
}
