package interfaces

// TEEHardware is the TEE hardware type of a registered capability.
type TEEHardware uint8

const (
	// TEEHardwareInvalid marks a record without TEE support.
	TEEHardwareInvalid TEEHardware = 0
	// TEEHardwareIntelTDX is an Intel TDX trust domain.
	TEEHardwareIntelTDX TEEHardware = 1
	// TEEHardwareIntelSGX is an Intel SGX enclave.
	TEEHardwareIntelSGX TEEHardware = 2
)

// CapabilityTEE is the registry-recorded TEE capability of a node runtime:
// the attestation key the node registered and the quote that bound it to an
// enclave measurement when registration was accepted.
type CapabilityTEE struct {
	// Hardware is the TEE hardware type.
	Hardware TEEHardware `json:"hardware" cbor:"hardware"`

	// RAK is the runtime attestation key the node registered for the
	// runtime.
	RAK PublicKey `json:"rak" cbor:"rak"`

	// Attestation is the raw quote verified at registration time.
	Attestation []byte `json:"attestation,omitempty" cbor:"attestation,omitempty"`
}

// NodeRuntime describes a single runtime a node advertises support for.
type NodeRuntime struct {
	// ID is the runtime identifier.
	ID Namespace `json:"id" cbor:"id"`

	// Version is the runtime software version the node is running.
	Version Version `json:"version" cbor:"version"`

	// CapabilityTEE is set when the runtime executes inside a TEE.
	CapabilityTEE *CapabilityTEE `json:"capability_tee,omitempty" cbor:"capability_tee,omitempty"`
}

// NodeRecord is a registry-recorded node and the runtimes it serves.
type NodeRecord struct {
	// ID is the node identifier.
	ID PublicKey `json:"id" cbor:"id"`

	// EntityID identifies the entity operating the node.
	EntityID PublicKey `json:"entity_id" cbor:"entity_id"`

	// Expiration is the epoch in which the registration expires.
	Expiration EpochTime `json:"expiration" cbor:"expiration"`

	// Runtimes are the runtimes the node advertises.
	Runtimes []*NodeRuntime `json:"runtimes,omitempty" cbor:"runtimes,omitempty"`
}

// HasTEE is the attestation predicate: it reports whether this node's
// registry record declares a TEE measurement matching the given runtime
// attestation key, runtime identifier, and software version. This is the
// single place that couples a registry-declared measurement to an
// enclave's own runtime identity.
func (n *NodeRecord) HasTEE(rak PublicKey, runtimeID Namespace, version Version) bool {
	for _, rt := range n.Runtimes {
		if !rt.ID.Equal(runtimeID) {
			continue
		}
		if !rt.Version.Equal(version) {
			continue
		}
		if rt.CapabilityTEE == nil {
			continue
		}
		if rt.CapabilityTEE.RAK.Equal(rak) {
			return true
		}
	}
	return false
}
