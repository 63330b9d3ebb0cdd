package verifier

import (
	"context"

	"github.com/ruteri/enclave-trust-core/interfaces"
	"github.com/ruteri/enclave-trust-core/registry"
)

// VerifyStateFreshness proves that the given consensus state still contains
// this enclave's own registration: a registry node record binding the
// enclave's runtime attestation key to its runtime identifier and version.
//
// When nodeID carries a previously discovered node identifier, only that
// record is checked and the confirmed identifier is returned back. A stale
// cache, whether the record is gone or no longer matches, is a hard
// verification failure with no fallback to a full scan. When nodeID is nil,
// the full node set is scanned and the first matching node identifier is
// returned for the caller to cache.
func VerifyStateFreshness(ctx context.Context, state interfaces.ConsensusState, rak interfaces.PublicKey, runtimeID interfaces.Namespace, version interfaces.Version, nodeID *interfaces.PublicKey) (*interfaces.PublicKey, error) {
	registryState := registry.NewState(state)

	if nodeID != nil {
		node, err := registryState.Node(ctx, *nodeID)
		if err != nil {
			return nil, VerificationError("failed to retrieve node from registry state: %v", err)
		}
		if node == nil {
			return nil, VerificationError("own node ID '%s' not found in registry state", nodeID.String())
		}
		if !node.HasTEE(rak, runtimeID, version) {
			return nil, VerificationError("own RAK not found in registry state")
		}
		return nodeID, nil
	}

	nodes, err := registryState.Nodes(ctx)
	if err != nil {
		return nil, VerificationError("failed to retrieve nodes from registry state: %v", err)
	}
	for _, node := range nodes {
		if node.HasTEE(rak, runtimeID, version) {
			id := node.ID
			return &id, nil
		}
	}
	return nil, VerificationError("own RAK not found in registry state")
}
