package verifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/enclave-trust-core/interfaces"
	"github.com/ruteri/enclave-trust-core/registry"
)

// chainSource is an in-memory HeaderSource serving a hash-linked chain.
type chainSource struct {
	mu     sync.Mutex
	blocks map[uint64]*interfaces.LightBlock
	latest uint64
}

func (s *chainSource) LightBlock(ctx context.Context, height uint64) (*interfaces.LightBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	block, ok := s.blocks[height]
	if !ok {
		return nil, fmt.Errorf("no block at height %d", height)
	}
	cp := *block
	return &cp, nil
}

func (s *chainSource) LatestHeight(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, nil
}

func (s *chainSource) set(block *interfaces.LightBlock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[block.Height] = block
	if block.Height > s.latest {
		s.latest = block.Height
	}
}

type testEnv struct {
	t         *testing.T
	source    *chainSource
	reader    *registry.MockStateReader
	runtimeID interfaces.Namespace
	rak       interfaces.PublicKey
	version   interfaces.Version
	trustRoot TrustRoot
	lc        *LightClient
}

// newTestEnv builds a 5-block chain anchored at height 1, with the enclave's
// own node registered at every height.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		t:         t,
		source:    &chainSource{blocks: make(map[uint64]*interfaces.LightBlock)},
		reader:    registry.NewMockStateReader(),
		runtimeID: interfaces.Namespace{0x01},
		rak:       interfaces.PublicKey{0xaa},
		version:   interfaces.Version{Major: 1},
	}

	var prevHash interfaces.Hash
	for h := uint64(1); h <= 5; h++ {
		block := &interfaces.LightBlock{
			Height:       h,
			PreviousHash: prevHash,
			Epoch:        interfaces.EpochTime(h / 2),
			StateRoot:    interfaces.Hash{byte(h)},
		}
		env.source.set(block)
		hash, err := block.Hash()
		require.NoError(t, err)
		prevHash = hash

		env.reader.SetNodes(h, []*interfaces.NodeRecord{env.ownNode()})

		if h == 1 {
			env.trustRoot = TrustRoot{
				Height:    1,
				Hash:      hash.String(),
				RuntimeID: env.runtimeID,
			}
		}
	}

	env.lc = env.newClient(nil)
	return env
}

func (env *testEnv) newClient(store interfaces.CheckpointBackend) *LightClient {
	lc, err := NewLightClient(Config{
		TrustRoot:       env.trustRoot,
		Source:          env.source,
		StateReader:     env.reader,
		RAK:             env.rak,
		Version:         env.version,
		CheckpointStore: store,
	})
	require.NoError(env.t, err)
	return lc
}

func (env *testEnv) ownNode() *interfaces.NodeRecord {
	return &interfaces.NodeRecord{
		ID:         interfaces.PublicKey{0x07},
		EntityID:   interfaces.PublicKey{0xee},
		Expiration: 100,
		Runtimes: []*interfaces.NodeRuntime{
			{
				ID:      env.runtimeID,
				Version: env.version,
				CapabilityTEE: &interfaces.CapabilityTEE{
					Hardware: interfaces.TEEHardwareIntelTDX,
					RAK:      env.rak,
				},
			},
		},
	}
}

// blockAt returns the chain block at the given height.
func (env *testEnv) blockAt(height uint64) interfaces.LightBlock {
	block, err := env.source.LightBlock(context.Background(), height)
	require.NoError(env.t, err)
	return *block
}

// headerAt creates a runtime header for the given round and commits it into
// the consensus block at the given height.
func (env *testEnv) headerAt(height, round uint64) interfaces.Header {
	header := interfaces.Header{
		Namespace:    env.runtimeID,
		Round:        round,
		PreviousHash: interfaces.Hash{0x10},
		IORoot:       interfaces.Hash{0x11},
		StateRoot:    interfaces.Hash{0x12},
		MessagesHash: interfaces.Hash{0x13},
	}
	headerHash, err := header.EncodedHash()
	require.NoError(env.t, err)

	block := env.blockAt(height)
	if block.RuntimeRoots == nil {
		block.RuntimeRoots = make(map[interfaces.Namespace]interfaces.Hash)
	}
	block.RuntimeRoots[env.runtimeID] = headerHash
	env.relink(&block)
	return header
}

// relink replaces a block and rebuilds PreviousHash links above it.
func (env *testEnv) relink(block *interfaces.LightBlock) {
	env.source.set(block)
	prev := *block
	for h := block.Height + 1; h <= env.source.latest; h++ {
		prevHash, err := prev.Hash()
		require.NoError(env.t, err)
		next := env.blockAt(h)
		next.PreviousHash = prevHash
		env.source.set(&next)
		prev = next
		if h == env.trustRoot.Height {
			env.trustRoot.Hash = prevHash.String()
		}
	}
}

func TestSyncAnchorsAtTrustRoot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.lc.Sync(ctx, 5))

	height, err := env.lc.LatestHeight()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), height)

	// Syncing to an already-verified height never regresses the watermark.
	require.NoError(t, env.lc.Sync(ctx, 3))
	height, err = env.lc.LatestHeight()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), height)
}

func TestSyncRejectsBadAnchor(t *testing.T) {
	env := newTestEnv(t)
	env.trustRoot.Hash = interfaces.Hash{0xff}.String()
	lc := env.newClient(nil)

	err := lc.Sync(context.Background(), 5)
	require.Error(t, err)
	assert.Equal(t, CodeVerificationFailed, ErrorCode(err))
}

func TestSyncUnconfiguredTrustRoot(t *testing.T) {
	env := newTestEnv(t)
	env.trustRoot = TrustRoot{}
	lc := env.newClient(nil)

	err := lc.Sync(context.Background(), 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTrustRootLoadingFailed))
}

func TestSyncRejectsBrokenChain(t *testing.T) {
	env := newTestEnv(t)

	tampered := env.blockAt(4)
	tampered.PreviousHash = interfaces.Hash{0xde, 0xad}
	env.source.set(&tampered)

	err := env.lc.Sync(context.Background(), 5)
	require.Error(t, err)
	assert.Equal(t, CodeVerificationFailed, ErrorCode(err))

	// Heights below the break verified fine.
	height, err := env.lc.LatestHeight()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), height)
}

func TestVerifyAcceptsCommittedHeader(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	header := env.headerAt(4, 7)
	block := env.blockAt(4)

	state, err := env.lc.Verify(ctx, block, header, block.Epoch)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), state.Height())
	assert.True(t, state.Verified())
	assert.True(t, state.StateRoot().Equal(block.StateRoot))
}

func TestVerifyRejectsForeignNamespace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	header := env.headerAt(4, 7)
	header.Namespace = interfaces.Namespace{0x99}
	block := env.blockAt(4)

	_, err := env.lc.Verify(ctx, block, header, block.Epoch)
	require.Error(t, err)
	assert.Equal(t, CodeVerificationFailed, ErrorCode(err))
}

func TestVerifyRejectsTamperedHeader(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	header := env.headerAt(4, 7)
	header.StateRoot = interfaces.Hash{0xbe, 0xef}
	block := env.blockAt(4)

	_, err := env.lc.Verify(ctx, block, header, block.Epoch)
	require.Error(t, err)
	assert.Equal(t, CodeVerificationFailed, ErrorCode(err))
}

func TestVerifyRejectsTamperedBlock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	header := env.headerAt(4, 7)
	block := env.blockAt(4)
	block.StateRoot = interfaces.Hash{0xbe, 0xef}

	_, err := env.lc.Verify(ctx, block, header, block.Epoch)
	require.Error(t, err)
	assert.Equal(t, CodeVerificationFailed, ErrorCode(err))
}

func TestVerifyEpochMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	header := env.headerAt(4, 7)
	block := env.blockAt(4)

	_, err := env.lc.Verify(ctx, block, header, block.Epoch+1)
	require.Error(t, err)
	assert.Equal(t, CodeVerificationFailed, ErrorCode(err))

	// Queries tolerate stale epochs; only the freshness requirement relaxes.
	state, err := env.lc.VerifyForQuery(ctx, block, header, block.Epoch+1)
	require.NoError(t, err)
	assert.True(t, state.Verified())
}

func TestVerifyTrustedResultsHeader(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A header for a round consensus has not committed yet.
	header := interfaces.Header{
		Namespace:    env.runtimeID,
		Round:        9,
		PreviousHash: interfaces.Hash{0x20},
		IORoot:       interfaces.Hash{0x21},
		StateRoot:    interfaces.Hash{0x22},
		MessagesHash: interfaces.Hash{0x23},
	}
	block := env.blockAt(4)

	_, err := env.lc.Verify(ctx, block, header, block.Epoch)
	require.Error(t, err)

	require.NoError(t, env.lc.Trust(&interfaces.ComputeResultsHeader{
		Round:        9,
		PreviousHash: header.PreviousHash,
		IORoot:       header.IORoot,
		StateRoot:    header.StateRoot,
		MessagesHash: header.MessagesHash,
	}))

	state, err := env.lc.Verify(ctx, block, header, block.Epoch)
	require.NoError(t, err)
	assert.True(t, state.Verified())
}

func TestTrustConflictSemantics(t *testing.T) {
	env := newTestEnv(t)

	header := &interfaces.ComputeResultsHeader{Round: 3, StateRoot: interfaces.Hash{0x01}}
	require.NoError(t, env.lc.Trust(header))

	// Identical re-trust is a no-op.
	require.NoError(t, env.lc.Trust(header))

	// A conflicting header for the same round is rejected and never
	// overwrites the recorded one.
	conflicting := &interfaces.ComputeResultsHeader{Round: 3, StateRoot: interfaces.Hash{0x02}}
	err := env.lc.Trust(conflicting)
	require.Error(t, err)
	assert.Equal(t, CodeVerificationFailed, ErrorCode(err))

	require.NoError(t, env.lc.Trust(header))
}

func TestUnverifiedState(t *testing.T) {
	env := newTestEnv(t)

	block := env.blockAt(4)
	state, err := env.lc.UnverifiedState(block)
	require.NoError(t, err)
	assert.False(t, state.Verified())
	assert.Equal(t, uint64(4), state.Height())
}

func TestLatestAndStateAt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.lc.LatestState()
	require.Error(t, err)
	assert.Equal(t, CodeInternal, ErrorCode(err))

	require.NoError(t, env.lc.Sync(ctx, 5))

	latest, err := env.lc.LatestState()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), latest.Height())

	at, err := env.lc.StateAt(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), at.Height())
	assert.True(t, at.StateRoot().Equal(interfaces.Hash{0x03}))

	_, err = env.lc.StateAt(99)
	require.Error(t, err)
}

func TestCheckpointResume(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	store := newMemoryCheckpointStore()
	lc := env.newClient(store)
	require.NoError(t, lc.Sync(ctx, 5))

	cp, err := store.Fetch(ctx, env.runtimeID)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), cp.Height)

	// A fresh client resumes from the checkpoint, not the trust root.
	resumed := env.newClient(store)
	require.NoError(t, resumed.Sync(ctx, 5))
	height, err := resumed.LatestHeight()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), height)
}

// memoryCheckpointStore is an in-memory CheckpointBackend for tests.
type memoryCheckpointStore struct {
	mu  sync.Mutex
	cps map[interfaces.Namespace]*interfaces.Checkpoint
}

func newMemoryCheckpointStore() *memoryCheckpointStore {
	return &memoryCheckpointStore{cps: make(map[interfaces.Namespace]*interfaces.Checkpoint)}
}

func (m *memoryCheckpointStore) Fetch(ctx context.Context, runtimeID interfaces.Namespace) (*interfaces.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.cps[runtimeID]
	if !ok {
		return nil, interfaces.ErrCheckpointNotFound
	}
	return cp, nil
}

func (m *memoryCheckpointStore) Store(ctx context.Context, cp *interfaces.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.cps[cp.RuntimeID]; ok && existing.Height > cp.Height {
		return nil
	}
	m.cps[cp.RuntimeID] = cp
	return nil
}

func (m *memoryCheckpointStore) Available(ctx context.Context) bool { return true }
func (m *memoryCheckpointStore) Name() string                       { return "memory" }
func (m *memoryCheckpointStore) LocationURI() string                { return "memory://" }
