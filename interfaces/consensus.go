package interfaces

import (
	"context"
	"fmt"

	"github.com/ruteri/enclave-trust-core/cryptoutils"
)

// EpochTime is a consensus epoch number.
type EpochTime uint64

// LightBlock is a consensus-layer header as seen by the light client. Its
// identity is the hash of its canonical encoding; PreviousHash links blocks
// into the verified chain.
type LightBlock struct {
	// Height is the consensus block height.
	Height uint64 `json:"height" cbor:"height"`

	// PreviousHash is the hash of the consensus header at Height-1.
	PreviousHash Hash `json:"previous_hash" cbor:"previous_hash"`

	// Epoch is the consensus epoch this block belongs to.
	Epoch EpochTime `json:"epoch" cbor:"epoch"`

	// StateRoot is the root of the consensus application state committed
	// at this height.
	StateRoot Hash `json:"state_root" cbor:"state_root"`

	// RuntimeRoots maps each runtime to the hash of the latest runtime
	// header accepted by consensus at this height.
	RuntimeRoots map[Namespace]Hash `json:"runtime_roots,omitempty" cbor:"runtime_roots,omitempty"`
}

// Hash computes the block's identity hash over its canonical encoding.
func (lb *LightBlock) Hash() (Hash, error) {
	h, err := cryptoutils.HashCanonical(lb)
	if err != nil {
		return Hash{}, fmt.Errorf("failed to hash light block: %w", err)
	}
	return h, nil
}

// Header is a runtime block header. Verification checks its consistency
// against the runtime root committed in a consensus light block.
type Header struct {
	// Namespace is the runtime this header belongs to.
	Namespace Namespace `json:"namespace" cbor:"namespace"`

	// Round is the runtime round number.
	Round uint64 `json:"round" cbor:"round"`

	// PreviousHash is the encoded hash of the previous runtime header.
	PreviousHash Hash `json:"previous_hash" cbor:"previous_hash"`

	// IORoot is the I/O merkle root of the round.
	IORoot Hash `json:"io_root" cbor:"io_root"`

	// StateRoot is the runtime state root after the round.
	StateRoot Hash `json:"state_root" cbor:"state_root"`

	// MessagesHash is the hash of the runtime messages emitted in the round.
	MessagesHash Hash `json:"messages_hash" cbor:"messages_hash"`
}

// EncodedHash computes the header's identity hash over its canonical
// encoding.
func (h *Header) EncodedHash() (Hash, error) {
	digest, err := cryptoutils.HashCanonical(h)
	if err != nil {
		return Hash{}, fmt.Errorf("failed to hash runtime header: %w", err)
	}
	return digest, nil
}

// ComputeResultsHeader is a locally-computed, already-trusted summary of a
// runtime computation round. It is fed into the verifier's trust
// accumulation and used to verify headers that build on local results
// before consensus has committed them.
type ComputeResultsHeader struct {
	// Round is the runtime round number the results belong to.
	Round uint64 `json:"round" cbor:"round"`

	// PreviousHash is the encoded hash of the runtime header the
	// computation built on.
	PreviousHash Hash `json:"previous_hash" cbor:"previous_hash"`

	// IORoot is the I/O merkle root produced by the computation.
	IORoot Hash `json:"io_root" cbor:"io_root"`

	// StateRoot is the runtime state root produced by the computation.
	StateRoot Hash `json:"state_root" cbor:"state_root"`

	// MessagesHash is the hash of the emitted runtime messages.
	MessagesHash Hash `json:"messages_hash" cbor:"messages_hash"`
}

// EncodedHash computes the header's identity hash over its canonical
// encoding.
func (h *ComputeResultsHeader) EncodedHash() (Hash, error) {
	digest, err := cryptoutils.HashCanonical(h)
	if err != nil {
		return Hash{}, fmt.Errorf("failed to hash compute results header: %w", err)
	}
	return digest, nil
}

// StateReader provides read-only queries against consensus application
// state at a given height. Implementations are external collaborators
// (the host's state sync layer, or an in-memory fixture in tests).
type StateReader interface {
	// Node looks up a single registry node record. Returns (nil, nil) if
	// the node is not registered at that height.
	Node(ctx context.Context, height uint64, id PublicKey) (*NodeRecord, error)

	// Nodes lists all registry node records at the height.
	Nodes(ctx context.Context, height uint64) ([]*NodeRecord, error)
}

// ConsensusState is a height-addressed accessor into consensus application
// state. Instances are produced by the verifier, either after cryptographic
// verification of the block they derive from or explicitly through the
// unverified path.
type ConsensusState struct {
	height    uint64
	stateRoot Hash
	verified  bool
	reader    StateReader
}

// NewConsensusState creates a state accessor. Only the verifier should call
// this.
func NewConsensusState(height uint64, stateRoot Hash, verified bool, reader StateReader) ConsensusState {
	return ConsensusState{
		height:    height,
		stateRoot: stateRoot,
		verified:  verified,
		reader:    reader,
	}
}

// Height returns the consensus height this accessor is bound to.
func (cs ConsensusState) Height() uint64 {
	return cs.height
}

// StateRoot returns the consensus state root this accessor is bound to.
func (cs ConsensusState) StateRoot() Hash {
	return cs.stateRoot
}

// Verified reports whether the accessor was produced through cryptographic
// verification. Accessors from the unverified path carry no integrity
// guarantee.
func (cs ConsensusState) Verified() bool {
	return cs.verified
}

// Reader returns the underlying state reader.
func (cs ConsensusState) Reader() StateReader {
	return cs.reader
}

// HeaderSource is the light-client sync transport collaborator. It fetches
// consensus headers; all verification happens in the verifier, so a
// malicious source can cause verification failures but never acceptance of
// a bad header.
type HeaderSource interface {
	// LightBlock fetches the consensus header at the given height.
	LightBlock(ctx context.Context, height uint64) (*LightBlock, error)

	// LatestHeight returns the highest height the source knows about.
	LatestHeight(ctx context.Context) (uint64, error)
}
