package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/ruteri/enclave-trust-core/interfaces"
)

// IPFSBackend persists checkpoints through an IPFS node. Content addressing
// makes stored objects immutable, so the latest checkpoint is published
// under the node's IPNS key and fetches resolve through it.
type IPFSBackend struct {
	shell       *shell.Shell
	host        string
	port        string
	log         *slog.Logger
	locationURI string
}

// NewIPFSBackend creates an IPFS checkpoint backend connected to the node
// API at host:port.
func NewIPFSBackend(host, port, timeout string, log *slog.Logger) (*IPFSBackend, error) {
	apiURL := fmt.Sprintf("%s:%s", host, port)

	return &IPFSBackend{
		shell:       shell.NewShell(apiURL),
		host:        host,
		port:        port,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s/?timeout=%s", apiURL, timeout),
	}, nil
}

// Fetch resolves the node's IPNS name and reads the published checkpoint.
func (b *IPFSBackend) Fetch(ctx context.Context, runtimeID interfaces.Namespace) (*interfaces.Checkpoint, error) {
	start := time.Now()

	if !b.shell.IsUp() {
		b.log.Warn("IPFS node unavailable",
			slog.String("host", b.host),
			slog.String("port", b.port))
		return nil, interfaces.ErrBackendUnavailable
	}

	resolved, err := b.shell.Resolve("")
	if err != nil {
		if strings.Contains(err.Error(), "could not resolve") {
			return nil, interfaces.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("failed to resolve IPNS name: %w", err)
	}

	reader, err := b.shell.Cat(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch checkpoint from IPFS: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint from IPFS: %w", err)
	}

	var cp interfaces.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint from IPFS: %w", err)
	}
	if !cp.RuntimeID.Equal(runtimeID) {
		return nil, interfaces.ErrCheckpointNotFound
	}

	b.log.Debug("Fetched checkpoint from IPFS",
		slog.String("path", resolved),
		slog.Uint64("height", cp.Height),
		slog.Duration("duration", time.Since(start)))
	return &cp, nil
}

// Store adds the checkpoint to IPFS and republishes the node's IPNS name to
// point at it.
func (b *IPFSBackend) Store(ctx context.Context, checkpoint *interfaces.Checkpoint) error {
	if !b.shell.IsUp() {
		return interfaces.ErrBackendUnavailable
	}

	existing, err := b.Fetch(ctx, checkpoint.RuntimeID)
	if err == nil && existing.Height > checkpoint.Height {
		return nil
	}

	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	cid, err := b.shell.Add(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to add checkpoint to IPFS: %w", err)
	}

	if err := b.shell.Publish("", "/ipfs/"+cid); err != nil {
		return fmt.Errorf("failed to publish checkpoint to IPNS: %w", err)
	}

	b.log.Debug("Stored checkpoint in IPFS",
		slog.String("cid", cid),
		slog.Uint64("height", checkpoint.Height))
	return nil
}

// Available checks if the IPFS node is accessible.
func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

// Name returns a unique identifier for this backend.
func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", b.host, b.port)
}

// LocationURI returns the URI that identifies this backend.
func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}
