// Package interfaces defines the shared data model and collaborator
// contracts of the enclave trust core: runtime identifiers, consensus light
// blocks and headers, registry node records, and the wire-visible error
// shape. It provides the contract between components without implementation
// details.
package interfaces

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ruteri/enclave-trust-core/cryptoutils"
)

type Hash = cryptoutils.Hash
type PublicKey = cryptoutils.PublicKey

// Namespace is a fixed-size runtime identifier.
type Namespace [32]byte

// NewNamespaceFromHex creates a namespace from a hex string, with or
// without 0x prefix.
func NewNamespaceFromHex(source string) (Namespace, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return Namespace{}, errors.New("invalid namespace length: hex string must be 64 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return Namespace{}, fmt.Errorf("invalid hex format: %w", err)
	}

	var ns Namespace
	copy(ns[:], raw)
	return ns, nil
}

// String returns the hex representation of the namespace.
func (ns Namespace) String() string {
	return hex.EncodeToString(ns[:])
}

// Bytes returns the raw 32-byte identifier.
func (ns Namespace) Bytes() []byte {
	return ns[:]
}

// Equal compares two namespaces.
func (ns Namespace) Equal(other Namespace) bool {
	return ns == other
}

// IsEmpty reports whether the namespace is all zeroes.
func (ns Namespace) IsEmpty() bool {
	return ns == Namespace{}
}

// Version is a semantic software version. Two versions match for attestation
// purposes only if all three components are equal.
type Version struct {
	Major uint16 `json:"major,omitempty" cbor:"major,omitempty"`
	Minor uint16 `json:"minor,omitempty" cbor:"minor,omitempty"`
	Patch uint16 `json:"patch,omitempty" cbor:"patch,omitempty"`
}

// String returns the dotted version string.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Equal compares two versions.
func (v Version) Equal(other Version) bool {
	return v == other
}

// Error is the wire-visible error shape surfaced to RPC callers. The
// module/code pair is stable and must be preserved for client compatibility.
type Error struct {
	Module  string `json:"module,omitempty" cbor:"module,omitempty"`
	Code    uint32 `json:"code,omitempty" cbor:"code,omitempty"`
	Message string `json:"message,omitempty" cbor:"message,omitempty"`
}

// Error implements the error interface.
func (e Error) Error() string {
	return fmt.Sprintf("module: %s code: %d message: %s", e.Module, e.Code, e.Message)
}
