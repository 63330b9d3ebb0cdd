package verifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/enclave-trust-core/interfaces"
)

func TestFreshnessFullScanDiscoversNode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// The scan must skip records that fail the attestation predicate:
	// foreign runtime, stale version, no TEE capability, foreign RAK.
	foreignRuntime := env.ownNode()
	foreignRuntime.ID = interfaces.PublicKey{0x11}
	foreignRuntime.Runtimes[0].ID = interfaces.Namespace{0x02}

	staleVersion := env.ownNode()
	staleVersion.ID = interfaces.PublicKey{0x12}
	staleVersion.Runtimes[0].Version = interfaces.Version{Major: 0, Minor: 9}

	noTEE := env.ownNode()
	noTEE.ID = interfaces.PublicKey{0x13}
	noTEE.Runtimes[0].CapabilityTEE = nil

	foreignRAK := env.ownNode()
	foreignRAK.ID = interfaces.PublicKey{0x14}
	foreignRAK.Runtimes[0].CapabilityTEE.RAK = interfaces.PublicKey{0xbb}

	env.reader.SetNodes(3, []*interfaces.NodeRecord{
		foreignRuntime, staleVersion, noTEE, foreignRAK, env.ownNode(),
	})

	state := interfaces.NewConsensusState(3, interfaces.Hash{}, true, env.reader)

	nodeID, err := VerifyStateFreshness(ctx, state, env.rak, env.runtimeID, env.version, nil)
	require.NoError(t, err)
	require.NotNil(t, nodeID)
	assert.True(t, nodeID.Equal(interfaces.PublicKey{0x07}))
	assert.Equal(t, 1, env.reader.NodesCalls)
	assert.Equal(t, 0, env.reader.NodeCalls)
}

func TestFreshnessFullScanMiss(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A height where the node set does not include our registration.
	env.reader.SetNodes(3, nil)
	state := interfaces.NewConsensusState(3, interfaces.Hash{}, true, env.reader)

	_, err := VerifyStateFreshness(ctx, state, env.rak, env.runtimeID, env.version, nil)
	require.Error(t, err)
	assert.Equal(t, CodeVerificationFailed, ErrorCode(err))
}

func TestFreshnessCachedNodeLookup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	state := interfaces.NewConsensusState(3, interfaces.Hash{}, true, env.reader)
	nodeID := interfaces.PublicKey{0x07}

	returned, err := VerifyStateFreshness(ctx, state, env.rak, env.runtimeID, env.version, &nodeID)
	require.NoError(t, err)
	require.NotNil(t, returned)
	assert.True(t, returned.Equal(nodeID))
	assert.Equal(t, 1, env.reader.NodeCalls)
	assert.Equal(t, 0, env.reader.NodesCalls)
}

func TestFreshnessStaleCacheIsHardFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	state := interfaces.NewConsensusState(3, interfaces.Hash{}, true, env.reader)

	// The cached node is gone from the registry: hard failure, no fallback
	// scan.
	missing := interfaces.PublicKey{0x42}
	_, err := VerifyStateFreshness(ctx, state, env.rak, env.runtimeID, env.version, &missing)
	require.Error(t, err)
	assert.Equal(t, CodeVerificationFailed, ErrorCode(err))
	assert.Equal(t, 0, env.reader.NodesCalls)

	// The cached node exists but its record no longer carries our RAK:
	// equally hard failure.
	stale := env.ownNode()
	stale.Runtimes[0].CapabilityTEE.RAK = interfaces.PublicKey{0xbb}
	env.reader.SetNodes(3, []*interfaces.NodeRecord{stale})

	cached := interfaces.PublicKey{0x07}
	_, err = VerifyStateFreshness(ctx, state, env.rak, env.runtimeID, env.version, &cached)
	require.Error(t, err)
	assert.Equal(t, CodeVerificationFailed, ErrorCode(err))
	assert.Equal(t, 0, env.reader.NodesCalls)
}

func TestFreshnessVersionMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	state := interfaces.NewConsensusState(3, interfaces.Hash{}, true, env.reader)

	_, err := VerifyStateFreshness(ctx, state, env.rak, env.runtimeID, interfaces.Version{Major: 2}, nil)
	require.Error(t, err)
	assert.Equal(t, CodeVerificationFailed, ErrorCode(err))
}

func TestVerifyCachesDiscoveredNodeID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	header := env.headerAt(4, 7)
	block := env.blockAt(4)

	_, err := env.lc.Verify(ctx, block, header, block.Epoch)
	require.NoError(t, err)
	assert.Equal(t, 1, env.reader.NodesCalls)

	// Subsequent verifications use the cached node ID, never a full scan.
	_, err = env.lc.Verify(ctx, block, header, block.Epoch)
	require.NoError(t, err)
	assert.Equal(t, 1, env.reader.NodesCalls)
	assert.GreaterOrEqual(t, env.reader.NodeCalls, 1)

	// Once cached, a vanished registration fails hard without rescanning.
	env.reader.SetNodes(4, nil)
	_, err = env.lc.Verify(ctx, block, header, block.Epoch)
	require.Error(t, err)
	assert.Equal(t, CodeVerificationFailed, ErrorCode(err))
	assert.Equal(t, 1, env.reader.NodesCalls)
}
