package keymanager

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/box"

	"github.com/ruteri/enclave-trust-core/cryptoutils"
	"github.com/ruteri/enclave-trust-core/interfaces"
)

const masterSecretSize = 32

var (
	kdfKeyDerivationLabel = []byte("enclave-trust-core/keymanager: key derivation")
	kdfChecksumLabel      = []byte("enclave-trust-core/keymanager: master secret checksum")
	initResponseLabel     = []byte("enclave-trust-core/keymanager: init response")
)

var (
	// ErrKdfNotInitialized is returned when key operations run before init.
	ErrKdfNotInitialized = errors.New("keymanager: kdf not initialized")

	// ErrPolicyChecksumMismatch is returned when init is attempted with a
	// policy checksum conflicting with the one the kdf is bound to.
	ErrPolicyChecksumMismatch = errors.New("keymanager: policy checksum mismatch")

	// ErrMasterSecretUnavailable is returned when init cannot generate a
	// master secret and none was replicated.
	ErrMasterSecretUnavailable = errors.New("keymanager: master secret unavailable")
)

// KeyPair is a derived x25519 key pair.
type KeyPair struct {
	PrivateKey [32]byte `json:"private_key" cbor:"private_key"`
	PublicKey  [32]byte `json:"public_key" cbor:"public_key"`
}

// InitResponse reports the key manager state after initialization. It is
// signed with the runtime attestation key so callers can verify which policy
// and master secret the enclave is bound to.
type InitResponse struct {
	// IsSecure reports whether the enclave runs under a real TEE.
	IsSecure bool `json:"is_secure" cbor:"is_secure"`

	// Checksum commits to the master secret without revealing it.
	Checksum interfaces.Hash `json:"checksum" cbor:"checksum"`

	// PolicyChecksum is the checksum of the policy the kdf is bound to.
	PolicyChecksum interfaces.Hash `json:"policy_checksum" cbor:"policy_checksum"`
}

// SignedInitResponse is an InitResponse with its RAK signature.
type SignedInitResponse struct {
	InitResponse InitResponse `json:"init_response" cbor:"init_response"`
	Signature    []byte       `json:"signature" cbor:"signature"`
}

// SignInitResponse signs an init response with the runtime attestation key.
func SignInitResponse(rak *cryptoutils.RAK, resp *InitResponse) (*SignedInitResponse, error) {
	msg, err := initResponseMessage(resp)
	if err != nil {
		return nil, err
	}
	return &SignedInitResponse{
		InitResponse: *resp,
		Signature:    rak.Sign(msg),
	}, nil
}

// Verify checks the init response signature against the given RAK public
// key.
func (s *SignedInitResponse) Verify(rakPub interfaces.PublicKey) error {
	msg, err := initResponseMessage(&s.InitResponse)
	if err != nil {
		return err
	}
	if !rakPub.Verify(cryptoutils.RAKSignatureContext, msg, s.Signature) {
		return errors.New("keymanager: invalid init response signature")
	}
	return nil
}

func initResponseMessage(resp *InitResponse) ([]byte, error) {
	raw, err := cryptoutils.MarshalCanonical(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode init response: %w", err)
	}
	msg := make([]byte, 0, len(initResponseLabel)+len(raw))
	msg = append(msg, initResponseLabel...)
	msg = append(msg, raw...)
	return msg, nil
}

// EncryptedMasterSecret is a master secret sealed to a replication peer's
// x25519 public key.
type EncryptedMasterSecret struct {
	EphemeralPublicKey [32]byte `json:"ephemeral_public_key" cbor:"ephemeral_public_key"`
	Nonce              [24]byte `json:"nonce" cbor:"nonce"`
	Ciphertext         []byte   `json:"ciphertext" cbor:"ciphertext"`
}

// Decrypt opens the sealed master secret with the peer's private key.
func (e *EncryptedMasterSecret) Decrypt(privateKey [32]byte) ([]byte, error) {
	secret, ok := box.Open(nil, e.Ciphertext, &e.Nonce, &e.EphemeralPublicKey, &privateKey)
	if !ok {
		return nil, errors.New("keymanager: failed to open replicated master secret")
	}
	return secret, nil
}

// Kdf derives runtime keys from the master secret. It is bound to exactly
// one policy checksum for its lifetime.
type Kdf struct {
	mu sync.RWMutex

	runtimeID interfaces.Namespace
	isSecure  bool

	policyChecksum *interfaces.Hash
	masterSecret   []byte
	checksum       interfaces.Hash
}

// NewKdf creates an uninitialized kdf for the given key manager runtime.
// isSecure reflects whether the enclave runs under a real TEE.
func NewKdf(runtimeID interfaces.Namespace, isSecure bool) *Kdf {
	return &Kdf{
		runtimeID: runtimeID,
		isSecure:  isSecure,
	}
}

// Init binds the kdf to a policy checksum and ensures a master secret
// exists, generating one if allowed. Re-initialization with the same policy
// checksum is idempotent; a conflicting checksum is rejected.
func (k *Kdf) Init(policyChecksum interfaces.Hash, mayGenerate bool) (*InitResponse, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.policyChecksum != nil && !k.policyChecksum.Equal(policyChecksum) {
		return nil, fmt.Errorf("%w: bound to %s, got %s", ErrPolicyChecksumMismatch, k.policyChecksum.String(), policyChecksum.String())
	}

	if k.masterSecret == nil {
		if !mayGenerate {
			return nil, ErrMasterSecretUnavailable
		}
		secret := make([]byte, masterSecretSize)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate master secret: %w", err)
		}
		k.masterSecret = secret
	}

	k.policyChecksum = &policyChecksum
	k.checksum = k.masterSecretChecksum()

	return &InitResponse{
		IsSecure:       k.isSecure,
		Checksum:       k.checksum,
		PolicyChecksum: policyChecksum,
	}, nil
}

// ReplicateMasterSecretInto installs a replicated master secret on an
// uninitialized kdf.
func (k *Kdf) ReplicateMasterSecretInto(secret []byte) error {
	if len(secret) != masterSecretSize {
		return fmt.Errorf("keymanager: invalid master secret length %d", len(secret))
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.masterSecret != nil {
		return errors.New("keymanager: master secret already present")
	}
	k.masterSecret = append([]byte{}, secret...)
	return nil
}

// Initialized reports whether Init has completed successfully.
func (k *Kdf) Initialized() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.policyChecksum != nil
}

// Checksum returns the master secret commitment.
func (k *Kdf) Checksum() (interfaces.Hash, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.policyChecksum == nil {
		return interfaces.Hash{}, ErrKdfNotInitialized
	}
	return k.checksum, nil
}

// GetOrCreateKeys deterministically derives the key pair for a runtime and
// key pair identifier. The same inputs always produce the same pair.
func (k *Kdf) GetOrCreateKeys(runtimeID interfaces.Namespace, keyPairID interfaces.Hash) (*KeyPair, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.policyChecksum == nil {
		return nil, ErrKdfNotInitialized
	}

	info := make([]byte, 0, len(kdfKeyDerivationLabel)+len(keyPairID))
	info = append(info, kdfKeyDerivationLabel...)
	info = append(info, keyPairID.Bytes()...)

	reader := hkdf.New(sha256.New, k.masterSecret, runtimeID.Bytes(), info)
	var private [32]byte
	if _, err := io.ReadFull(reader, private[:]); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	public, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	pair := &KeyPair{PrivateKey: private}
	copy(pair.PublicKey[:], public)
	return pair, nil
}

// GetPublicKey derives only the public half of a key pair.
func (k *Kdf) GetPublicKey(runtimeID interfaces.Namespace, keyPairID interfaces.Hash) ([32]byte, error) {
	pair, err := k.GetOrCreateKeys(runtimeID, keyPairID)
	if err != nil {
		return [32]byte{}, err
	}
	return pair.PublicKey, nil
}

// ReplicateMasterSecret seals the master secret to the peer's x25519 public
// key. Authorization is the caller's responsibility.
func (k *Kdf) ReplicateMasterSecret(peerPublicKey [32]byte) (*EncryptedMasterSecret, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.policyChecksum == nil {
		return nil, ErrKdfNotInitialized
	}

	ephPub, ephPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := box.Seal(nil, k.masterSecret, &nonce, &peerPublicKey, ephPriv)
	return &EncryptedMasterSecret{
		EphemeralPublicKey: *ephPub,
		Nonce:              nonce,
		Ciphertext:         sealed,
	}, nil
}

// masterSecretChecksum commits to the master secret bound to this runtime.
func (k *Kdf) masterSecretChecksum() interfaces.Hash {
	h := sha256.New()
	h.Write(kdfChecksumLabel)
	h.Write(k.runtimeID.Bytes())
	h.Write(k.masterSecret)
	var out interfaces.Hash
	copy(out[:], h.Sum(nil))
	return out
}
