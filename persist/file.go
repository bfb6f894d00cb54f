package persist

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore persists checkpoints as files under a directory, one file per
// run id. Writes go through a temporary file and rename, so a crash during
// Save never leaves a truncated checkpoint behind.
type FileStore struct {
	dir string
}

// Compile-time assertion that FileStore implements Store.
var _ Store = (*FileStore)(nil)

// NewFileStore creates a file-backed checkpoint store rooted at dir.
//
// Parameters:
//   - dir: Directory for checkpoint files (created if missing)
//
// Returns:
//   - *FileStore: Initialized store
//   - error: If the directory cannot be created
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("checkpoint directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}

	return &FileStore{dir: dir}, nil
}

// Save writes the checkpoint atomically via rename.
func (s *FileStore) Save(_ context.Context, runID string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, runID+".tmp-*")
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(runID)); err != nil {
		return fmt.Errorf("publish checkpoint: %w", err)
	}

	return nil
}

// Load returns the checkpoint for runID.
func (s *FileStore) Load(_ context.Context, runID string) ([]byte, error) {
	data, err := os.ReadFile(s.path(runID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	return data, nil
}

// Delete removes the checkpoint file if present.
func (s *FileStore) Delete(_ context.Context, runID string) error {
	err := os.Remove(s.path(runID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}

	return nil
}

func (s *FileStore) path(runID string) string {
	return filepath.Join(s.dir, runID+".ckpt")
}
