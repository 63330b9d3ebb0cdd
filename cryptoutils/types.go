package cryptoutils

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Hash is a 32-byte SHA-256 digest.
type Hash [32]byte

// NewHashFromBytes creates a hash from a raw 32-byte slice.
func NewHashFromBytes(source []byte) (Hash, error) {
	if len(source) != 32 {
		return Hash{}, errors.New("invalid hash length: must be 32 bytes")
	}

	var h Hash
	copy(h[:], source)
	return h, nil
}

// NewHashFromHex creates a hash from a hex string, with or without 0x prefix.
func NewHashFromHex(source string) (Hash, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return Hash{}, errors.New("invalid hash length: hex string must be 64 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return Hash{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewHashFromBytes(raw)
}

// String returns the hex representation of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns the raw 32-byte digest.
func (h Hash) Bytes() []byte {
	return h[:]
}

// Equal compares two hashes.
func (h Hash) Equal(other Hash) bool {
	return h == other
}

// IsEmpty reports whether the hash is all zeroes.
func (h Hash) IsEmpty() bool {
	return h == Hash{}
}

// PublicKey is a 32-byte ed25519 public key.
type PublicKey [32]byte

// NewPublicKeyFromHex creates a public key from a hex string.
func NewPublicKeyFromHex(source string) (PublicKey, error) {
	clean := strings.TrimPrefix(source, "0x")
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return PublicKey{}, fmt.Errorf("invalid hex format: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return PublicKey{}, errors.New("invalid public key length: must be 32 bytes")
	}

	var pk PublicKey
	copy(pk[:], raw)
	return pk, nil
}

// String returns the hex representation of the public key.
func (pk PublicKey) String() string {
	return hex.EncodeToString(pk[:])
}

// Bytes returns the raw 32-byte key.
func (pk PublicKey) Bytes() []byte {
	return pk[:]
}

// Equal compares two public keys.
func (pk PublicKey) Equal(other PublicKey) bool {
	return pk == other
}

// IsEmpty reports whether the key is all zeroes.
func (pk PublicKey) IsEmpty() bool {
	return pk == PublicKey{}
}

// Verify checks an ed25519 signature made by this key over a
// domain-separated message.
func (pk PublicKey) Verify(context, message, signature []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(pk[:]), signedMessage(context, message), signature)
}

// Signer holds an ed25519 private key and produces domain-separated
// signatures.
type Signer struct {
	private ed25519.PrivateKey
}

// GenerateSigner creates a signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return &Signer{private: priv}, nil
}

// NewSignerFromSeed creates a deterministic signer from a 32-byte seed.
// Useful for testing.
func NewSignerFromSeed(seed []byte) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, errors.New("invalid seed length: must be 32 bytes")
	}
	return &Signer{private: ed25519.NewKeyFromSeed(seed)}, nil
}

// Public returns the signer's public key.
func (s *Signer) Public() PublicKey {
	var pk PublicKey
	copy(pk[:], s.private.Public().(ed25519.PublicKey))
	return pk
}

// Sign produces a signature over the message under the given domain
// separation context.
func (s *Signer) Sign(context, message []byte) []byte {
	return ed25519.Sign(s.private, signedMessage(context, message))
}

func signedMessage(context, message []byte) []byte {
	return bytes.Join([][]byte{context, message}, []byte{0x00})
}

// canonicalEncMode is the deterministic CBOR encoding used for all hashed
// structures. Map keys are sorted so the same value always encodes to the
// same bytes.
var canonicalEncMode cbor.EncMode

func init() {
	var err error
	canonicalEncMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cryptoutils: failed to initialize canonical CBOR mode: %v", err))
	}
}

// MarshalCanonical serializes a value using deterministic CBOR encoding.
func MarshalCanonical(v interface{}) ([]byte, error) {
	return canonicalEncMode.Marshal(v)
}

// UnmarshalCanonical deserializes deterministic CBOR-encoded data.
func UnmarshalCanonical(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}

// HashCanonical computes the SHA-256 digest of the canonical CBOR encoding
// of a value. All header and policy hashes in this repository are computed
// this way.
func HashCanonical(v interface{}) (Hash, error) {
	data, err := MarshalCanonical(v)
	if err != nil {
		return Hash{}, fmt.Errorf("failed to encode value for hashing: %w", err)
	}
	return sha256.Sum256(data), nil
}
