package keymanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ruteri/enclave-trust-core/cryptoutils"
	"github.com/ruteri/enclave-trust-core/enclaverpc"
	"github.com/ruteri/enclave-trust-core/interfaces"
)

// ErrNotAuthorized is returned when the active policy forbids the requested
// operation for the caller.
var ErrNotAuthorized = errors.New("keymanager: not authorized")

// Config collects the key manager's collaborators.
type Config struct {
	// RuntimeID is the key manager runtime identifier.
	RuntimeID interfaces.Namespace

	// RAK signs init responses.
	RAK *cryptoutils.RAK

	// Policy verifies and holds the governance document.
	Policy *Policy

	// Kdf derives runtime keys.
	Kdf *Kdf

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// KeyManager serves key derivation and master secret replication behind the
// enclave RPC trust boundary.
type KeyManager struct {
	runtimeID interfaces.Namespace
	rak       *cryptoutils.RAK
	policy    *Policy
	kdf       *Kdf
	log       *slog.Logger
}

// New creates a key manager.
func New(cfg Config) (*KeyManager, error) {
	if cfg.RAK == nil {
		return nil, errors.New("keymanager: no RAK configured")
	}
	if cfg.Policy == nil {
		return nil, errors.New("keymanager: no policy configured")
	}
	if cfg.Kdf == nil {
		return nil, errors.New("keymanager: no kdf configured")
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &KeyManager{
		runtimeID: cfg.RuntimeID,
		rak:       cfg.RAK,
		policy:    cfg.Policy,
		kdf:       cfg.Kdf,
		log:       log.With("component", "keymanager"),
	}, nil
}

// RegisterMethods registers the key manager methods on the dispatcher
// builder and installs the context initializer. Init is local-only.
func (km *KeyManager) RegisterMethods(builder *enclaverpc.Builder) error {
	methods := []struct {
		desc    enclaverpc.MethodDescriptor
		handler enclaverpc.Handler
	}{
		{enclaverpc.MethodDescriptor{Name: MethodGetOrCreateKeys}, km.getOrCreateKeys},
		{enclaverpc.MethodDescriptor{Name: MethodGetPublicKey}, km.getPublicKey},
		{enclaverpc.MethodDescriptor{Name: MethodReplicateMasterSecret}, km.replicateMasterSecret},
		{enclaverpc.MethodDescriptor{Name: MethodInit, LocalOnly: true}, km.init},
	}
	for _, m := range methods {
		if err := builder.AddMethod(m.desc, m.handler); err != nil {
			return err
		}
	}

	builder.SetContextInitializer(func() *enclaverpc.Context {
		return &enclaverpc.Context{RuntimeID: km.runtimeID}
	})
	return nil
}

func (km *KeyManager) getOrCreateKeys(ctx context.Context, rc *enclaverpc.Context, req []byte) ([]byte, error) {
	var request GetOrCreateKeysRequest
	if err := cryptoutils.UnmarshalCanonical(req, &request); err != nil {
		return nil, fmt.Errorf("malformed request: %w", err)
	}

	if !km.policy.MayQuery(request.RuntimeID) {
		return nil, fmt.Errorf("%w: runtime %s may not query keys", ErrNotAuthorized, request.RuntimeID.String())
	}

	pair, err := km.kdf.GetOrCreateKeys(request.RuntimeID, request.KeyPairID)
	if err != nil {
		return nil, err
	}
	return cryptoutils.MarshalCanonical(pair)
}

func (km *KeyManager) getPublicKey(ctx context.Context, rc *enclaverpc.Context, req []byte) ([]byte, error) {
	var request GetPublicKeyRequest
	if err := cryptoutils.UnmarshalCanonical(req, &request); err != nil {
		return nil, fmt.Errorf("malformed request: %w", err)
	}

	if !km.policy.MayQuery(request.RuntimeID) {
		return nil, fmt.Errorf("%w: runtime %s may not query keys", ErrNotAuthorized, request.RuntimeID.String())
	}

	public, err := km.kdf.GetPublicKey(request.RuntimeID, request.KeyPairID)
	if err != nil {
		return nil, err
	}
	return cryptoutils.MarshalCanonical(&GetPublicKeyResponse{PublicKey: public})
}

func (km *KeyManager) replicateMasterSecret(ctx context.Context, rc *enclaverpc.Context, req []byte) ([]byte, error) {
	if rc.PeerID == nil {
		return nil, fmt.Errorf("%w: unauthenticated replication request", ErrNotAuthorized)
	}
	if !km.policy.MayReplicate(*rc.PeerID) {
		return nil, fmt.Errorf("%w: peer %s may not replicate", ErrNotAuthorized, rc.PeerID.String())
	}

	var request ReplicateMasterSecretRequest
	if err := cryptoutils.UnmarshalCanonical(req, &request); err != nil {
		return nil, fmt.Errorf("malformed request: %w", err)
	}

	sealed, err := km.kdf.ReplicateMasterSecret(request.PublicKey)
	if err != nil {
		return nil, err
	}

	km.log.Info("master secret replicated", "peer", rc.PeerID.String(), "request_id", rc.RequestID)
	return cryptoutils.MarshalCanonical(&ReplicateMasterSecretResponse{MasterSecret: *sealed})
}

func (km *KeyManager) init(ctx context.Context, rc *enclaverpc.Context, req []byte) ([]byte, error) {
	var request InitRequest
	if err := cryptoutils.UnmarshalCanonical(req, &request); err != nil {
		return nil, fmt.Errorf("malformed request: %w", err)
	}

	checksum, err := km.policy.Init(&request.SignedPolicy)
	if err != nil {
		return nil, err
	}

	resp, err := km.kdf.Init(checksum, request.MayGenerate)
	if err != nil {
		return nil, err
	}

	signed, err := SignInitResponse(km.rak, resp)
	if err != nil {
		return nil, err
	}

	km.log.Info("key manager initialized",
		"policy_serial", request.SignedPolicy.Policy.Serial,
		"policy_checksum", checksum.String(),
	)
	return cryptoutils.MarshalCanonical(signed)
}
