package verifier

import (
	"context"

	"github.com/ruteri/enclave-trust-core/interfaces"
)

// Verifier is the consensus light-client verification interface. Verified
// heights only move forward: once a height is verified, no operation ever
// regresses the verifier to an earlier trusted height.
type Verifier interface {
	// Sync verifies consensus headers up to the given height. It is
	// idempotent for already-verified heights.
	Sync(ctx context.Context, height uint64) error

	// Verify verifies that the given runtime header is consistent with the
	// given consensus block and returns verified consensus state at the
	// block's height.
	//
	// This also verifies that the state is fresh.
	Verify(ctx context.Context, consensusBlock interfaces.LightBlock, runtimeHeader interfaces.Header, epoch interfaces.EpochTime) (interfaces.ConsensusState, error)

	// VerifyForQuery verifies the same consistency properties as Verify but
	// relaxes only the freshness requirement, for queries that may serve
	// slightly stale state.
	VerifyForQuery(ctx context.Context, consensusBlock interfaces.LightBlock, runtimeHeader interfaces.Header, epoch interfaces.EpochTime) (interfaces.ConsensusState, error)

	// UnverifiedState returns consensus state for the given block without
	// any verification. The returned state carries no integrity guarantee
	// and is marked as unverified.
	UnverifiedState(consensusBlock interfaces.LightBlock) (interfaces.ConsensusState, error)

	// LatestState returns verified consensus state at the latest verified
	// height.
	//
	// Warning: the state is only as fresh as the last sync; callers needing
	// freshness guarantees must use Verify.
	LatestState() (interfaces.ConsensusState, error)

	// StateAt returns verified consensus state at the given height, which
	// must already be verified.
	//
	// Warning: the state is only as fresh as the last sync; callers needing
	// freshness guarantees must use Verify.
	StateAt(height uint64) (interfaces.ConsensusState, error)

	// LatestHeight returns the latest verified consensus height.
	LatestHeight() (uint64, error)

	// Trust records a locally-computed results header as trusted, making
	// runtime headers that build on it verifiable before consensus commits
	// them. Re-trusting an identical header is a no-op; a conflicting header
	// for an already-trusted round is a verification failure.
	Trust(header *interfaces.ComputeResultsHeader) error
}
