package verifier

import (
	"github.com/ruteri/enclave-trust-core/cryptoutils"
	"github.com/ruteri/enclave-trust-core/interfaces"
)

// TrustRoot is the pre-agreed consensus anchor a deployment starts
// verification from: a consensus height, the hex-encoded header hash at that
// height, and the runtime the enclave serves. It is fixed at deployment time
// and never changes for the lifetime of a deployment.
type TrustRoot struct {
	// Height is the consensus height of the anchor header.
	Height uint64 `json:"height" cbor:"height"`

	// Hash is the hex-encoded consensus header hash at Height.
	Hash string `json:"hash" cbor:"hash"`

	// RuntimeID is the runtime identifier the deployment serves.
	RuntimeID interfaces.Namespace `json:"runtime_id" cbor:"runtime_id"`
}

// IsConfigured reports whether the trust root carries a usable anchor. A
// zero-height root is treated as unconfigured so that verification fails
// closed instead of anchoring on the genesis default.
func (tr *TrustRoot) IsConfigured() bool {
	return tr.Height != 0
}

// HeaderHash decodes the anchor header hash.
func (tr *TrustRoot) HeaderHash() (interfaces.Hash, error) {
	return cryptoutils.NewHashFromHex(tr.Hash)
}
