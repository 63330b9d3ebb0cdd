package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ruteri/enclave-trust-core/interfaces"
)

// MultiBackend aggregates several checkpoint backends for redundancy.
// Fetch returns the highest checkpoint found across available backends;
// Store writes to every writable backend and succeeds if at least one write
// succeeds.
type MultiBackend struct {
	backends []interfaces.CheckpointBackend
	log      *slog.Logger
}

// NewMultiBackend creates a redundant checkpoint store over the given
// backends.
func NewMultiBackend(backends []interfaces.CheckpointBackend, log *slog.Logger) *MultiBackend {
	return &MultiBackend{
		backends: backends,
		log:      log,
	}
}

// Fetch queries every available backend and returns the checkpoint with the
// highest height.
func (m *MultiBackend) Fetch(ctx context.Context, runtimeID interfaces.Namespace) (*interfaces.Checkpoint, error) {
	var best *interfaces.Checkpoint
	for _, backend := range m.backends {
		cp, err := backend.Fetch(ctx, runtimeID)
		if err != nil {
			if !errors.Is(err, interfaces.ErrCheckpointNotFound) {
				m.log.Debug("Checkpoint fetch failed",
					slog.String("backend", backend.Name()),
					"err", err)
			}
			continue
		}
		if best == nil || cp.Height > best.Height {
			best = cp
		}
	}
	if best == nil {
		return nil, interfaces.ErrCheckpointNotFound
	}
	return best, nil
}

// Store writes the checkpoint to all backends, tolerating read-only and
// unavailable ones as long as one write succeeds.
func (m *MultiBackend) Store(ctx context.Context, checkpoint *interfaces.Checkpoint) error {
	var stored int
	var lastErr error
	for _, backend := range m.backends {
		err := backend.Store(ctx, checkpoint)
		if err != nil {
			if !errors.Is(err, interfaces.ErrReadOnlyBackend) {
				m.log.Warn("Checkpoint store failed",
					slog.String("backend", backend.Name()),
					"err", err)
				lastErr = err
			}
			continue
		}
		stored++
	}
	if stored == 0 {
		if lastErr != nil {
			return fmt.Errorf("failed to store checkpoint to any backend: %w", lastErr)
		}
		return interfaces.ErrReadOnlyBackend
	}
	return nil
}

// Available reports whether any backend is accessible.
func (m *MultiBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns a composite identifier listing the aggregated backends.
func (m *MultiBackend) Name() string {
	names := make([]string, len(m.backends))
	for i, backend := range m.backends {
		names[i] = backend.Name()
	}
	return fmt.Sprintf("multi[%s]", strings.Join(names, ","))
}

// LocationURI returns the comma-separated backend URIs.
func (m *MultiBackend) LocationURI() string {
	uris := make([]string, len(m.backends))
	for i, backend := range m.backends {
		uris[i] = backend.LocationURI()
	}
	return strings.Join(uris, ",")
}
