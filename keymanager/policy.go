package keymanager

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ruteri/enclave-trust-core/cryptoutils"
	"github.com/ruteri/enclave-trust-core/interfaces"
)

// PolicySigningContext domain-separates policy signatures.
var PolicySigningContext = []byte("enclave-trust-core/keymanager: policy")

var (
	// ErrPolicyInvalid is returned for malformed or unauthorized policies.
	ErrPolicyInvalid = errors.New("keymanager: policy invalid")

	// ErrPolicyRollback is returned when a policy carries a lower serial
	// than the active one.
	ErrPolicyRollback = errors.New("keymanager: policy rollback")

	// ErrPolicyNotInitialized is returned when an operation requires an
	// active policy and none has been installed.
	ErrPolicyNotInitialized = errors.New("keymanager: policy not initialized")
)

// PolicyContent is the governance document controlling the key manager: who
// may replicate the master secret and which runtime the policy binds to.
// Serial numbers only move forward.
type PolicyContent struct {
	// Serial is the monotonically increasing policy version.
	Serial uint32 `json:"serial" cbor:"serial"`

	// RuntimeID is the key manager runtime the policy applies to.
	RuntimeID interfaces.Namespace `json:"runtime_id" cbor:"runtime_id"`

	// MayReplicate lists runtime attestation keys allowed to replicate the
	// master secret.
	MayReplicate []interfaces.PublicKey `json:"may_replicate,omitempty" cbor:"may_replicate,omitempty"`

	// MayQuery lists runtime identifiers allowed to request keys. Empty
	// means any runtime.
	MayQuery []interfaces.Namespace `json:"may_query,omitempty" cbor:"may_query,omitempty"`
}

// PolicySignature is one signer's endorsement of a policy document.
type PolicySignature struct {
	PublicKey interfaces.PublicKey `json:"public_key" cbor:"public_key"`
	Signature []byte               `json:"signature" cbor:"signature"`
}

// SignedPolicy is a policy document with its endorsements.
type SignedPolicy struct {
	Policy     PolicyContent     `json:"policy" cbor:"policy"`
	Signatures []PolicySignature `json:"signatures" cbor:"signatures"`
}

// SignPolicy endorses a policy document with the given signer.
func SignPolicy(policy *PolicyContent, signer *cryptoutils.Signer) (*PolicySignature, error) {
	raw, err := cryptoutils.MarshalCanonical(policy)
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy: %w", err)
	}
	return &PolicySignature{
		PublicKey: signer.Public(),
		Signature: signer.Sign(PolicySigningContext, raw),
	}, nil
}

// Policy holds the active, threshold-verified policy document.
type Policy struct {
	mu sync.RWMutex

	trustedSigners []interfaces.PublicKey
	threshold      int

	current  *PolicyContent
	checksum interfaces.Hash
}

// NewPolicy creates a policy verifier trusting the given signer set with the
// given signature threshold.
func NewPolicy(trustedSigners []interfaces.PublicKey, threshold int) (*Policy, error) {
	if threshold <= 0 || threshold > len(trustedSigners) {
		return nil, fmt.Errorf("%w: threshold %d out of range for %d signers", ErrPolicyInvalid, threshold, len(trustedSigners))
	}
	return &Policy{
		trustedSigners: trustedSigners,
		threshold:      threshold,
	}, nil
}

// Init verifies and installs a signed policy, returning its checksum.
// Re-installing the active policy is a no-op returning the same checksum; a
// lower serial, or a different document under the active serial, is
// rejected.
func (p *Policy) Init(signed *SignedPolicy) (interfaces.Hash, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	raw, err := cryptoutils.MarshalCanonical(&signed.Policy)
	if err != nil {
		return interfaces.Hash{}, fmt.Errorf("%w: %v", ErrPolicyInvalid, err)
	}

	if err := p.verifySignatures(raw, signed.Signatures); err != nil {
		return interfaces.Hash{}, err
	}

	checksum, err := cryptoutils.HashCanonical(&signed.Policy)
	if err != nil {
		return interfaces.Hash{}, fmt.Errorf("%w: %v", ErrPolicyInvalid, err)
	}

	if p.current != nil {
		if signed.Policy.Serial < p.current.Serial {
			return interfaces.Hash{}, fmt.Errorf("%w: serial %d < %d", ErrPolicyRollback, signed.Policy.Serial, p.current.Serial)
		}
		if signed.Policy.Serial == p.current.Serial && !checksum.Equal(p.checksum) {
			return interfaces.Hash{}, fmt.Errorf("%w: conflicting policy for serial %d", ErrPolicyRollback, signed.Policy.Serial)
		}
	}

	policy := signed.Policy
	p.current = &policy
	p.checksum = checksum
	return checksum, nil
}

// verifySignatures requires at least threshold valid signatures from
// distinct trusted signers.
func (p *Policy) verifySignatures(raw []byte, sigs []PolicySignature) error {
	seen := make(map[interfaces.PublicKey]bool)
	valid := 0
	for _, sig := range sigs {
		if seen[sig.PublicKey] {
			continue
		}
		if !p.isTrustedSigner(sig.PublicKey) {
			continue
		}
		if !sig.PublicKey.Verify(PolicySigningContext, raw, sig.Signature) {
			return fmt.Errorf("%w: bad signature from %s", ErrPolicyInvalid, sig.PublicKey.String())
		}
		seen[sig.PublicKey] = true
		valid++
	}
	if valid < p.threshold {
		return fmt.Errorf("%w: %d valid signatures, need %d", ErrPolicyInvalid, valid, p.threshold)
	}
	return nil
}

func (p *Policy) isTrustedSigner(key interfaces.PublicKey) bool {
	for _, trusted := range p.trustedSigners {
		if trusted.Equal(key) {
			return true
		}
	}
	return false
}

// Checksum returns the active policy checksum.
func (p *Policy) Checksum() (interfaces.Hash, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return interfaces.Hash{}, ErrPolicyNotInitialized
	}
	return p.checksum, nil
}

// MayReplicate reports whether the given runtime attestation key is allowed
// to replicate the master secret under the active policy.
func (p *Policy) MayReplicate(rak interfaces.PublicKey) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return false
	}
	for _, allowed := range p.current.MayReplicate {
		if allowed.Equal(rak) {
			return true
		}
	}
	return false
}

// MayQuery reports whether the given runtime may request keys under the
// active policy. An empty allowlist admits every runtime.
func (p *Policy) MayQuery(runtimeID interfaces.Namespace) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return false
	}
	if len(p.current.MayQuery) == 0 {
		return true
	}
	for _, allowed := range p.current.MayQuery {
		if allowed.Equal(runtimeID) {
			return true
		}
	}
	return false
}
