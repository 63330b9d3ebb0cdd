package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/ruteri/enclave-trust-core/interfaces"
)

// VaultBackend persists checkpoints in HashiCorp Vault under a KV v2 mount.
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend creates a Vault checkpoint backend.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - token: Vault token
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: path within the mount (e.g. "checkpoints")
func NewVaultBackend(address, token, mountPath, dataPath string, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.Timeout = 30 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.TrimSuffix(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
	}, nil
}

// Fetch reads the checkpoint for a runtime from the KV v2 store.
func (b *VaultBackend) Fetch(ctx context.Context, runtimeID interfaces.Namespace) (*interfaces.Checkpoint, error) {
	path := b.readPath(runtimeID)

	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		b.log.Error("Failed to read from Vault", slog.String("path", path), "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrCheckpointNotFound
	}

	// KV v2 wraps the payload in a "data" field.
	inner, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid data format in Vault response at %s", path)
	}
	raw, ok := inner["checkpoint"].(string)
	if !ok {
		return nil, interfaces.ErrCheckpointNotFound
	}

	var cp interfaces.Checkpoint
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint from Vault: %w", err)
	}

	b.log.Debug("Fetched checkpoint from Vault",
		slog.String("path", path),
		slog.Uint64("height", cp.Height))
	return &cp, nil
}

// Store writes the checkpoint, never replacing one at a higher height.
func (b *VaultBackend) Store(ctx context.Context, checkpoint *interfaces.Checkpoint) error {
	existing, err := b.Fetch(ctx, checkpoint.RuntimeID)
	if err == nil && existing.Height > checkpoint.Height {
		return nil
	}

	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	path := b.readPath(checkpoint.RuntimeID)
	_, err = b.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"data": map[string]interface{}{
			"checkpoint": string(data),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write checkpoint to Vault: %w", err)
	}

	b.log.Debug("Stored checkpoint in Vault",
		slog.String("path", path),
		slog.Uint64("height", checkpoint.Height))
	return nil
}

// Available checks Vault health.
func (b *VaultBackend) Available(ctx context.Context) bool {
	health, err := b.client.Sys().HealthWithContext(ctx)
	if err != nil {
		b.log.Warn("Vault backend unavailable", "err", err)
		return false
	}
	return health.Initialized && !health.Sealed
}

// Name returns a unique identifier for this backend.
func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s", b.dataPath)
}

// LocationURI returns the URI that identifies this backend.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}

func (b *VaultBackend) readPath(runtimeID interfaces.Namespace) string {
	return fmt.Sprintf("%s/data/%s/%s", b.mountPath, b.dataPath, runtimeID.String())
}
