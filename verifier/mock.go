package verifier

import (
	"context"
	"errors"
	"sync"

	"github.com/ruteri/enclave-trust-core/interfaces"
)

// MockVerifier is a Verifier test double. It accepts everything, tracks the
// highest height it has been synced to, and hands out state backed by the
// configured reader without any verification.
type MockVerifier struct {
	mu sync.Mutex

	Reader interfaces.StateReader

	latestHeight uint64
	latestRoot   interfaces.Hash
	trusted      map[uint64]interfaces.ComputeResultsHeader
}

var _ Verifier = (*MockVerifier)(nil)

// NewMockVerifier creates a mock verifier over the given state reader.
func NewMockVerifier(reader interfaces.StateReader) *MockVerifier {
	return &MockVerifier{
		Reader:  reader,
		trusted: make(map[uint64]interfaces.ComputeResultsHeader),
	}
}

// Sync implements Verifier.
func (m *MockVerifier) Sync(ctx context.Context, height uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if height > m.latestHeight {
		m.latestHeight = height
	}
	return nil
}

// Verify implements Verifier.
func (m *MockVerifier) Verify(ctx context.Context, consensusBlock interfaces.LightBlock, runtimeHeader interfaces.Header, epoch interfaces.EpochTime) (interfaces.ConsensusState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if consensusBlock.Height > m.latestHeight {
		m.latestHeight = consensusBlock.Height
		m.latestRoot = consensusBlock.StateRoot
	}
	return interfaces.NewConsensusState(consensusBlock.Height, consensusBlock.StateRoot, true, m.Reader), nil
}

// VerifyForQuery implements Verifier.
func (m *MockVerifier) VerifyForQuery(ctx context.Context, consensusBlock interfaces.LightBlock, runtimeHeader interfaces.Header, epoch interfaces.EpochTime) (interfaces.ConsensusState, error) {
	return m.Verify(ctx, consensusBlock, runtimeHeader, epoch)
}

// UnverifiedState implements Verifier.
func (m *MockVerifier) UnverifiedState(consensusBlock interfaces.LightBlock) (interfaces.ConsensusState, error) {
	return interfaces.NewConsensusState(consensusBlock.Height, consensusBlock.StateRoot, false, m.Reader), nil
}

// LatestState implements Verifier.
func (m *MockVerifier) LatestState() (interfaces.ConsensusState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latestHeight == 0 {
		return interfaces.ConsensusState{}, InternalError(errors.New("no verified consensus height"))
	}
	return interfaces.NewConsensusState(m.latestHeight, m.latestRoot, true, m.Reader), nil
}

// StateAt implements Verifier.
func (m *MockVerifier) StateAt(height uint64) (interfaces.ConsensusState, error) {
	return interfaces.NewConsensusState(height, interfaces.Hash{}, true, m.Reader), nil
}

// LatestHeight implements Verifier.
func (m *MockVerifier) LatestHeight() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latestHeight == 0 {
		return 0, InternalError(errors.New("no verified consensus height"))
	}
	return m.latestHeight, nil
}

// Trust implements Verifier with the same conflict semantics as the light
// client.
func (m *MockVerifier) Trust(header *interfaces.ComputeResultsHeader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.trusted[header.Round]; ok && existing != *header {
		return VerificationError("conflicting results header for already trusted round %d", header.Round)
	}
	m.trusted[header.Round] = *header
	return nil
}
