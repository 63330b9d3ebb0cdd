// Package cryptoutils provides the cryptographic primitives shared across
// the trust core: SHA-256 hashes over canonical CBOR encodings, ed25519
// signing with domain separation, the runtime attestation key (RAK), and
// TDX attestation quote providers and verification.
package cryptoutils
