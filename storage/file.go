package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/enclave-trust-core/interfaces"
)

// FileBackend persists checkpoints as JSON files on the local file system,
// one file per runtime.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a file checkpoint backend rooted at baseDir,
// creating the directory if needed.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Fetch reads the checkpoint file for a runtime. Returns
// ErrCheckpointNotFound if none was stored.
func (b *FileBackend) Fetch(ctx context.Context, runtimeID interfaces.Namespace) (*interfaces.Checkpoint, error) {
	path := b.checkpointPath(runtimeID)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, interfaces.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var cp interfaces.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint file: %w", err)
	}

	b.log.Debug("Fetched checkpoint from file",
		slog.String("path", path),
		slog.Uint64("height", cp.Height))
	return &cp, nil
}

// Store writes the checkpoint atomically. A stored checkpoint is never
// replaced by one at a lower height.
func (b *FileBackend) Store(ctx context.Context, checkpoint *interfaces.Checkpoint) error {
	existing, err := b.Fetch(ctx, checkpoint.RuntimeID)
	if err == nil && existing.Height > checkpoint.Height {
		return nil
	}

	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	path := b.checkpointPath(checkpoint.RuntimeID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	b.log.Debug("Stored checkpoint in file",
		slog.String("path", path),
		slog.Uint64("height", checkpoint.Height))
	return nil
}

// Available checks that the checkpoint directory exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

func (b *FileBackend) checkpointPath(runtimeID interfaces.Namespace) string {
	return filepath.Join(b.baseDir, runtimeID.String()+".json")
}
