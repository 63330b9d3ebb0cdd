package verifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ruteri/enclave-trust-core/interfaces"
	"github.com/ruteri/enclave-trust-core/metrics"
)

// DefaultStateCacheSize is the number of verified headers kept for
// height-addressed state queries when the config does not override it.
const DefaultStateCacheSize = 128

// Config collects the collaborators of a light-client verifier.
type Config struct {
	// TrustRoot is the deployment-time consensus anchor.
	TrustRoot TrustRoot

	// Source fetches consensus headers. It is untrusted.
	Source interfaces.HeaderSource

	// StateReader backs the consensus state accessors handed out after
	// verification.
	StateReader interfaces.StateReader

	// RAK is the enclave's own runtime attestation public key, checked
	// against the registry during freshness verification.
	RAK interfaces.PublicKey

	// Version is the runtime software version this enclave runs.
	Version interfaces.Version

	// CheckpointStore optionally persists the verification watermark so a
	// restart resumes from the latest verified header instead of the trust
	// root. Nil disables checkpointing.
	CheckpointStore interfaces.CheckpointBackend

	// Logger receives verification progress logs. Defaults to slog.Default.
	Logger *slog.Logger

	// StateCacheSize bounds the window of verified headers kept for
	// height-addressed queries. Zero selects DefaultStateCacheSize.
	StateCacheSize int
}

type verifiedHeader struct {
	block interfaces.LightBlock
	hash  interfaces.Hash
}

// LightClient is the production Verifier. It maintains a forward-only
// watermark of verified consensus heights anchored at the trust root and a
// set of locally trusted compute results headers.
type LightClient struct {
	trustRoot TrustRoot

	source      interfaces.HeaderSource
	stateReader interfaces.StateReader
	rak         interfaces.PublicKey
	version     interfaces.Version
	checkpoints interfaces.CheckpointBackend
	log         *slog.Logger

	mu           sync.Mutex
	latestHeight uint64
	latest       verifiedHeader
	headerCache  *lru.Cache
	trusted      map[uint64]interfaces.ComputeResultsHeader
	nodeID       *interfaces.PublicKey
}

var _ Verifier = (*LightClient)(nil)

// NewLightClient creates a light-client verifier from the given config.
func NewLightClient(cfg Config) (*LightClient, error) {
	if cfg.Source == nil {
		return nil, BuilderError(errors.New("no header source configured"))
	}
	if cfg.StateReader == nil {
		return nil, BuilderError(errors.New("no state reader configured"))
	}

	cacheSize := cfg.StateCacheSize
	if cacheSize <= 0 {
		cacheSize = DefaultStateCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, BuilderError(fmt.Errorf("failed to create header cache: %w", err))
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &LightClient{
		trustRoot:   cfg.TrustRoot,
		source:      cfg.Source,
		stateReader: cfg.StateReader,
		rak:         cfg.RAK,
		version:     cfg.Version,
		checkpoints: cfg.CheckpointStore,
		log:         log.With("component", "verifier"),
		headerCache: cache,
		trusted:     make(map[uint64]interfaces.ComputeResultsHeader),
	}, nil
}

// Sync verifies consensus headers up to the given height. Already-verified
// heights are a no-op; the watermark never moves backwards.
func (lc *LightClient) Sync(ctx context.Context, height uint64) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if err := lc.syncLocked(ctx, height); err != nil {
		metrics.VerificationsTotal.WithLabelValues("sync", "failed").Inc()
		return err
	}
	metrics.VerificationsTotal.WithLabelValues("sync", "ok").Inc()
	return nil
}

func (lc *LightClient) syncLocked(ctx context.Context, height uint64) error {
	if lc.latestHeight == 0 {
		if err := lc.anchorLocked(ctx); err != nil {
			return err
		}
	}
	if height <= lc.latestHeight {
		return nil
	}

	prevHash := lc.latest.hash
	for h := lc.latestHeight + 1; h <= height; h++ {
		block, err := lc.source.LightBlock(ctx, h)
		if err != nil {
			return InternalError(fmt.Errorf("failed to fetch consensus header at height %d: %w", h, err))
		}
		if block.Height != h {
			return BuilderError(fmt.Errorf("header source returned height %d, expected %d", block.Height, h))
		}
		if !block.PreviousHash.Equal(prevHash) {
			return VerificationError("consensus header at height %d does not extend verified chain", h)
		}
		blockHash, err := block.Hash()
		if err != nil {
			return BuilderError(err)
		}

		lc.recordVerifiedLocked(verifiedHeader{block: *block, hash: blockHash})
		prevHash = blockHash
	}

	lc.log.Debug("synced consensus headers", "height", lc.latestHeight)
	lc.persistCheckpointLocked(ctx)
	return nil
}

// anchorLocked establishes the initial verified header, preferring a stored
// checkpoint over the deployment-time trust root when one validates.
func (lc *LightClient) anchorLocked(ctx context.Context) error {
	if !lc.trustRoot.IsConfigured() {
		return ErrTrustRootLoadingFailed
	}
	rootHash, err := lc.trustRoot.HeaderHash()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTrustRootLoadingFailed, err)
	}

	if cp := lc.loadCheckpointLocked(ctx); cp != nil {
		if err := lc.anchorAtLocked(ctx, cp.Height, cp.Hash); err == nil {
			lc.log.Info("anchored at stored checkpoint", "height", cp.Height)
			return nil
		}
		lc.log.Warn("stored checkpoint did not validate, falling back to trust root", "height", cp.Height)
	}

	if err := lc.anchorAtLocked(ctx, lc.trustRoot.Height, rootHash); err != nil {
		return err
	}
	lc.log.Info("anchored at trust root", "height", lc.trustRoot.Height)
	return nil
}

func (lc *LightClient) anchorAtLocked(ctx context.Context, height uint64, expectedHash interfaces.Hash) error {
	block, err := lc.source.LightBlock(ctx, height)
	if err != nil {
		return InternalError(fmt.Errorf("failed to fetch anchor header at height %d: %w", height, err))
	}
	blockHash, err := block.Hash()
	if err != nil {
		return BuilderError(err)
	}
	if !blockHash.Equal(expectedHash) {
		return VerificationError("anchor header hash mismatch at height %d", height)
	}

	lc.recordVerifiedLocked(verifiedHeader{block: *block, hash: blockHash})
	return nil
}

func (lc *LightClient) recordVerifiedLocked(vh verifiedHeader) {
	lc.latest = vh
	lc.latestHeight = vh.block.Height
	lc.headerCache.Add(vh.block.Height, vh)
	metrics.VerifiedHeight.Set(float64(vh.block.Height))
}

func (lc *LightClient) loadCheckpointLocked(ctx context.Context) *interfaces.Checkpoint {
	if lc.checkpoints == nil {
		return nil
	}
	cp, err := lc.checkpoints.Fetch(ctx, lc.trustRoot.RuntimeID)
	if err != nil {
		if !errors.Is(err, interfaces.ErrCheckpointNotFound) {
			lc.log.Warn("failed to load checkpoint", "err", err)
		}
		return nil
	}
	if !cp.RuntimeID.Equal(lc.trustRoot.RuntimeID) || cp.Height < lc.trustRoot.Height {
		return nil
	}
	return cp
}

func (lc *LightClient) persistCheckpointLocked(ctx context.Context) {
	if lc.checkpoints == nil || lc.latestHeight == 0 {
		return
	}
	cp := &interfaces.Checkpoint{
		RuntimeID: lc.trustRoot.RuntimeID,
		Height:    lc.latestHeight,
		Hash:      lc.latest.hash,
		Epoch:     lc.latest.block.Epoch,
	}
	if err := lc.checkpoints.Store(ctx, cp); err != nil {
		lc.log.Warn("failed to persist checkpoint", "height", cp.Height, "err", err)
	}
}

// Verify verifies runtime header consistency against the consensus block and
// that the state is fresh, returning verified state at the block's height.
func (lc *LightClient) Verify(ctx context.Context, consensusBlock interfaces.LightBlock, runtimeHeader interfaces.Header, epoch interfaces.EpochTime) (interfaces.ConsensusState, error) {
	state, err := lc.verify(ctx, consensusBlock, runtimeHeader, epoch, true)
	if err != nil {
		metrics.VerificationsTotal.WithLabelValues("verify", "failed").Inc()
		return interfaces.ConsensusState{}, err
	}
	metrics.VerificationsTotal.WithLabelValues("verify", "ok").Inc()
	return state, nil
}

// VerifyForQuery verifies the same properties as Verify with the freshness
// requirement relaxed.
func (lc *LightClient) VerifyForQuery(ctx context.Context, consensusBlock interfaces.LightBlock, runtimeHeader interfaces.Header, epoch interfaces.EpochTime) (interfaces.ConsensusState, error) {
	state, err := lc.verify(ctx, consensusBlock, runtimeHeader, epoch, false)
	if err != nil {
		metrics.VerificationsTotal.WithLabelValues("verify_for_query", "failed").Inc()
		return interfaces.ConsensusState{}, err
	}
	metrics.VerificationsTotal.WithLabelValues("verify_for_query", "ok").Inc()
	return state, nil
}

func (lc *LightClient) verify(ctx context.Context, consensusBlock interfaces.LightBlock, runtimeHeader interfaces.Header, epoch interfaces.EpochTime, requireFresh bool) (interfaces.ConsensusState, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	vh, err := lc.verifiedHeaderLocked(ctx, consensusBlock)
	if err != nil {
		return interfaces.ConsensusState{}, err
	}

	if err := lc.verifyHeaderLocked(vh, runtimeHeader); err != nil {
		return interfaces.ConsensusState{}, err
	}

	if requireFresh {
		if vh.block.Epoch != epoch {
			return interfaces.ConsensusState{}, VerificationError("epoch mismatch (expected: %d, got: %d)", epoch, vh.block.Epoch)
		}
		state := interfaces.NewConsensusState(vh.block.Height, vh.block.StateRoot, true, lc.stateReader)
		nodeID, err := VerifyStateFreshness(ctx, state, lc.rak, lc.trustRoot.RuntimeID, lc.version, lc.nodeID)
		if err != nil {
			return interfaces.ConsensusState{}, err
		}
		if nodeID != nil {
			if lc.nodeID == nil {
				lc.log.Info("discovered own node identifier", "node_id", nodeID.String())
			}
			lc.nodeID = nodeID
		}
	}

	return interfaces.NewConsensusState(vh.block.Height, vh.block.StateRoot, true, lc.stateReader), nil
}

// verifiedHeaderLocked returns the verified header matching the given block,
// syncing forward if the block is beyond the watermark. The given block must
// hash to the verified header at its height.
func (lc *LightClient) verifiedHeaderLocked(ctx context.Context, block interfaces.LightBlock) (verifiedHeader, error) {
	if err := lc.syncLocked(ctx, block.Height); err != nil {
		return verifiedHeader{}, err
	}

	var vh verifiedHeader
	switch {
	case block.Height == lc.latestHeight:
		vh = lc.latest
	default:
		cached, ok := lc.headerCache.Get(block.Height)
		if !ok {
			return verifiedHeader{}, VerificationError("verified header for height %d is no longer available", block.Height)
		}
		vh = cached.(verifiedHeader)
	}

	blockHash, err := block.Hash()
	if err != nil {
		return verifiedHeader{}, BuilderError(err)
	}
	if !blockHash.Equal(vh.hash) {
		return verifiedHeader{}, VerificationError("consensus header at height %d does not match verified chain", block.Height)
	}
	return vh, nil
}

// verifyHeaderLocked checks runtime header consistency: the header must
// belong to the configured runtime and either match the runtime root the
// consensus block commits to, or match a locally trusted compute results
// header for its round.
func (lc *LightClient) verifyHeaderLocked(vh verifiedHeader, header interfaces.Header) error {
	if !header.Namespace.Equal(lc.trustRoot.RuntimeID) {
		return VerificationError("header namespace '%s' does not match configured runtime '%s'", header.Namespace.String(), lc.trustRoot.RuntimeID.String())
	}

	headerHash, err := header.EncodedHash()
	if err != nil {
		return BuilderError(err)
	}

	if root, ok := vh.block.RuntimeRoots[header.Namespace]; ok && root.Equal(headerHash) {
		return nil
	}

	if trusted, ok := lc.trusted[header.Round]; ok {
		if trusted.PreviousHash.Equal(header.PreviousHash) &&
			trusted.IORoot.Equal(header.IORoot) &&
			trusted.StateRoot.Equal(header.StateRoot) &&
			trusted.MessagesHash.Equal(header.MessagesHash) {
			return nil
		}
	}

	return VerificationError("runtime header for round %d does not match consensus or trusted results", header.Round)
}

// UnverifiedState returns state for the given block without verification.
func (lc *LightClient) UnverifiedState(consensusBlock interfaces.LightBlock) (interfaces.ConsensusState, error) {
	return interfaces.NewConsensusState(consensusBlock.Height, consensusBlock.StateRoot, false, lc.stateReader), nil
}

// LatestState returns verified state at the latest verified height.
func (lc *LightClient) LatestState() (interfaces.ConsensusState, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.latestHeight == 0 {
		return interfaces.ConsensusState{}, InternalError(errors.New("no verified consensus height"))
	}
	return interfaces.NewConsensusState(lc.latestHeight, lc.latest.block.StateRoot, true, lc.stateReader), nil
}

// StateAt returns verified state at the given height. The height must fall
// inside the retained window of verified headers.
func (lc *LightClient) StateAt(height uint64) (interfaces.ConsensusState, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if height == lc.latestHeight && lc.latestHeight != 0 {
		return interfaces.NewConsensusState(height, lc.latest.block.StateRoot, true, lc.stateReader), nil
	}
	cached, ok := lc.headerCache.Get(height)
	if !ok {
		return interfaces.ConsensusState{}, VerificationError("no verified consensus state for height %d", height)
	}
	vh := cached.(verifiedHeader)
	return interfaces.NewConsensusState(height, vh.block.StateRoot, true, lc.stateReader), nil
}

// LatestHeight returns the latest verified consensus height.
func (lc *LightClient) LatestHeight() (uint64, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.latestHeight == 0 {
		return 0, InternalError(errors.New("no verified consensus height"))
	}
	return lc.latestHeight, nil
}

// Trust records a locally computed results header. Re-trusting an identical
// header is a no-op; a conflicting header for an already trusted round is
// rejected, and nothing ever overwrites a recorded round.
func (lc *LightClient) Trust(header *interfaces.ComputeResultsHeader) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if existing, ok := lc.trusted[header.Round]; ok {
		if existing.PreviousHash.Equal(header.PreviousHash) &&
			existing.IORoot.Equal(header.IORoot) &&
			existing.StateRoot.Equal(header.StateRoot) &&
			existing.MessagesHash.Equal(header.MessagesHash) {
			metrics.VerificationsTotal.WithLabelValues("trust", "ok").Inc()
			return nil
		}
		metrics.VerificationsTotal.WithLabelValues("trust", "failed").Inc()
		return VerificationError("conflicting results header for already trusted round %d", header.Round)
	}

	lc.trusted[header.Round] = *header
	metrics.VerificationsTotal.WithLabelValues("trust", "ok").Inc()
	return nil
}
