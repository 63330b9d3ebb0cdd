package cryptoutils

import (
	"crypto/sha256"
	"fmt"
	"sync"
)

// RAKSignatureContext domain-separates signatures produced with the runtime
// attestation key.
var RAKSignatureContext = []byte("enclave-trust-core/rak: v1")

// RAK is the runtime attestation key: the enclave's identity key, measured
// and reported via attestation. The key itself never leaves the process; the
// quote binds its public half to the enclave measurement.
type RAK struct {
	mu sync.RWMutex

	signer   *Signer
	provider AttestationProvider
	quote    []byte
}

// NewRAK creates a runtime attestation key backed by the given attestation
// provider.
func NewRAK(provider AttestationProvider) (*RAK, error) {
	signer, err := GenerateSigner()
	if err != nil {
		return nil, fmt.Errorf("failed to generate RAK: %w", err)
	}

	return &RAK{signer: signer, provider: provider}, nil
}

// NewRAKFromSeed creates a deterministic RAK for testing.
func NewRAKFromSeed(seed []byte, provider AttestationProvider) (*RAK, error) {
	signer, err := NewSignerFromSeed(seed)
	if err != nil {
		return nil, err
	}
	return &RAK{signer: signer, provider: provider}, nil
}

// Public returns the RAK public key.
func (r *RAK) Public() PublicKey {
	return r.signer.Public()
}

// Sign produces a RAK signature over the message.
func (r *RAK) Sign(message []byte) []byte {
	return r.signer.Sign(RAKSignatureContext, message)
}

// ReportData computes the 64-byte attestation report data binding this RAK
// to a runtime: the first half is the digest of the public key, the second
// half the runtime identifier.
func (r *RAK) ReportData(runtimeID [32]byte) [64]byte {
	var reportData [64]byte
	pub := r.signer.Public()
	keyDigest := sha256.Sum256(pub[:])
	copy(reportData[:32], keyDigest[:])
	copy(reportData[32:], runtimeID[:])
	return reportData
}

// Attest obtains (and caches) a quote binding the RAK to the runtime
// identifier. Repeated calls return the cached quote.
func (r *RAK) Attest(runtimeID [32]byte) ([]byte, error) {
	r.mu.RLock()
	if r.quote != nil {
		quote := r.quote
		r.mu.RUnlock()
		return quote, nil
	}
	r.mu.RUnlock()

	quote, err := r.provider.Attest(r.ReportData(runtimeID))
	if err != nil {
		return nil, fmt.Errorf("failed to attest RAK: %w", err)
	}

	r.mu.Lock()
	r.quote = quote
	r.mu.Unlock()
	return quote, nil
}
