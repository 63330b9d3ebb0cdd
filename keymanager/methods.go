package keymanager

import (
	"github.com/ruteri/enclave-trust-core/interfaces"
)

// RPC method names. Init is local-only; everything else is served to remote
// runtimes over the enclave session.
const (
	MethodGetOrCreateKeys       = "get_or_create_keys"
	MethodGetPublicKey          = "get_public_key"
	MethodReplicateMasterSecret = "replicate_master_secret"
	MethodInit                  = "init"
)

// GetOrCreateKeysRequest requests the key pair for a runtime and key pair
// identifier.
type GetOrCreateKeysRequest struct {
	RuntimeID interfaces.Namespace `json:"runtime_id" cbor:"runtime_id"`
	KeyPairID interfaces.Hash      `json:"key_pair_id" cbor:"key_pair_id"`
}

// GetPublicKeyRequest requests only the public half of a key pair.
type GetPublicKeyRequest struct {
	RuntimeID interfaces.Namespace `json:"runtime_id" cbor:"runtime_id"`
	KeyPairID interfaces.Hash      `json:"key_pair_id" cbor:"key_pair_id"`
}

// GetPublicKeyResponse carries a derived public key.
type GetPublicKeyResponse struct {
	PublicKey [32]byte `json:"public_key" cbor:"public_key"`
}

// ReplicateMasterSecretRequest asks for the master secret sealed to the
// caller's x25519 public key.
type ReplicateMasterSecretRequest struct {
	PublicKey [32]byte `json:"public_key" cbor:"public_key"`
}

// ReplicateMasterSecretResponse carries the sealed master secret.
type ReplicateMasterSecretResponse struct {
	MasterSecret EncryptedMasterSecret `json:"master_secret" cbor:"master_secret"`
}

// InitRequest installs a signed policy and initializes key derivation.
type InitRequest struct {
	SignedPolicy SignedPolicy `json:"signed_policy" cbor:"signed_policy"`

	// MayGenerate allows generating a fresh master secret when none was
	// replicated.
	MayGenerate bool `json:"may_generate" cbor:"may_generate"`
}
