package registry

import (
	"context"

	"github.com/ruteri/enclave-trust-core/interfaces"
)

// State exposes registry queries against consensus state at a fixed height.
type State struct {
	state interfaces.ConsensusState
}

// NewState creates a registry view over the given consensus state.
func NewState(state interfaces.ConsensusState) *State {
	return &State{state: state}
}

// Height returns the consensus height the view is bound to.
func (s *State) Height() uint64 {
	return s.state.Height()
}

// Verified reports whether the underlying state was produced through
// verification.
func (s *State) Verified() bool {
	return s.state.Verified()
}

// Node looks up a single node record by identifier. Returns (nil, nil) if
// the node is not registered at this height.
func (s *State) Node(ctx context.Context, id interfaces.PublicKey) (*interfaces.NodeRecord, error) {
	return s.state.Reader().Node(ctx, s.state.Height(), id)
}

// Nodes lists all node records registered at this height.
func (s *State) Nodes(ctx context.Context) ([]*interfaces.NodeRecord, error) {
	return s.state.Reader().Nodes(ctx, s.state.Height())
}
