package registry

import (
	"context"
	"sync"

	"github.com/ruteri/enclave-trust-core/interfaces"
)

// MockStateReader is an in-memory StateReader holding per-height node sets.
// It counts lookups so tests can assert on access patterns.
type MockStateReader struct {
	mu sync.Mutex

	nodes map[uint64][]*interfaces.NodeRecord

	// NodeCalls counts single-node lookups.
	NodeCalls int
	// NodesCalls counts full listings.
	NodesCalls int
}

// NewMockStateReader creates an empty mock state reader.
func NewMockStateReader() *MockStateReader {
	return &MockStateReader{
		nodes: make(map[uint64][]*interfaces.NodeRecord),
	}
}

// SetNodes replaces the node set at the given height.
func (m *MockStateReader) SetNodes(height uint64, nodes []*interfaces.NodeRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[height] = nodes
}

// AddNode appends a node record at the given height.
func (m *MockStateReader) AddNode(height uint64, node *interfaces.NodeRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[height] = append(m.nodes[height], node)
}

// Node implements interfaces.StateReader.
func (m *MockStateReader) Node(ctx context.Context, height uint64, id interfaces.PublicKey) (*interfaces.NodeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.NodeCalls++
	for _, node := range m.nodes[height] {
		if node.ID.Equal(id) {
			return node, nil
		}
	}
	return nil, nil
}

// Nodes implements interfaces.StateReader.
func (m *MockStateReader) Nodes(ctx context.Context, height uint64) ([]*interfaces.NodeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.NodesCalls++
	out := make([]*interfaces.NodeRecord, len(m.nodes[height]))
	copy(out, m.nodes[height])
	return out, nil
}
