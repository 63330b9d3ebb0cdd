package keymanager

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/enclave-trust-core/cryptoutils"
	"github.com/ruteri/enclave-trust-core/interfaces"
)

func TestKdfRequiresInit(t *testing.T) {
	kdf := NewKdf(interfaces.Namespace{0x01}, false)

	_, err := kdf.GetOrCreateKeys(interfaces.Namespace{0x02}, interfaces.Hash{0x03})
	assert.True(t, errors.Is(err, ErrKdfNotInitialized))

	_, err = kdf.ReplicateMasterSecret([32]byte{0x01})
	assert.True(t, errors.Is(err, ErrKdfNotInitialized))

	_, err = kdf.Checksum()
	assert.True(t, errors.Is(err, ErrKdfNotInitialized))
}

func TestKdfInitGeneratesAndBinds(t *testing.T) {
	kdf := NewKdf(interfaces.Namespace{0x01}, true)
	policyChecksum := interfaces.Hash{0xcc}

	// Generation must be explicitly allowed.
	_, err := kdf.Init(policyChecksum, false)
	assert.True(t, errors.Is(err, ErrMasterSecretUnavailable))

	resp, err := kdf.Init(policyChecksum, true)
	require.NoError(t, err)
	assert.True(t, resp.IsSecure)
	assert.True(t, resp.PolicyChecksum.Equal(policyChecksum))
	assert.False(t, resp.Checksum.IsEmpty())

	// Re-init with the same policy checksum is idempotent.
	again, err := kdf.Init(policyChecksum, false)
	require.NoError(t, err)
	assert.True(t, again.Checksum.Equal(resp.Checksum))

	// A conflicting policy checksum is rejected for the kdf's lifetime.
	_, err = kdf.Init(interfaces.Hash{0xdd}, true)
	assert.True(t, errors.Is(err, ErrPolicyChecksumMismatch))
}

func TestKdfDerivationDeterministic(t *testing.T) {
	kdf := NewKdf(interfaces.Namespace{0x01}, false)
	require.NoError(t, kdf.ReplicateMasterSecretInto(make([]byte, 32)))
	_, err := kdf.Init(interfaces.Hash{0xcc}, false)
	require.NoError(t, err)

	runtimeA := interfaces.Namespace{0x0a}
	runtimeB := interfaces.Namespace{0x0b}
	keyID := interfaces.Hash{0x01}

	pair1, err := kdf.GetOrCreateKeys(runtimeA, keyID)
	require.NoError(t, err)
	pair2, err := kdf.GetOrCreateKeys(runtimeA, keyID)
	require.NoError(t, err)
	assert.Equal(t, pair1, pair2)

	// Different runtimes and key IDs derive different keys.
	other, err := kdf.GetOrCreateKeys(runtimeB, keyID)
	require.NoError(t, err)
	assert.NotEqual(t, pair1.PrivateKey, other.PrivateKey)

	otherID, err := kdf.GetOrCreateKeys(runtimeA, interfaces.Hash{0x02})
	require.NoError(t, err)
	assert.NotEqual(t, pair1.PrivateKey, otherID.PrivateKey)

	// The public-only path agrees with the full derivation.
	public, err := kdf.GetPublicKey(runtimeA, keyID)
	require.NoError(t, err)
	assert.Equal(t, pair1.PublicKey, public)
}

func TestKdfReplicationRoundtrip(t *testing.T) {
	source := NewKdf(interfaces.Namespace{0x01}, false)
	secret := make([]byte, 32)
	secret[0] = 0x5a
	require.NoError(t, source.ReplicateMasterSecretInto(secret))
	_, err := source.Init(interfaces.Hash{0xcc}, false)
	require.NoError(t, err)

	// The replica generates its transfer key pair through its own kdf
	// bootstrap path in production; a raw x25519 pair suffices here.
	replicaPair, err := deriveTransferPair()
	require.NoError(t, err)

	sealed, err := source.ReplicateMasterSecret(replicaPair.PublicKey)
	require.NoError(t, err)

	recovered, err := sealed.Decrypt(replicaPair.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, secret, recovered)

	// The replica ends up with the same derivation state.
	replica := NewKdf(interfaces.Namespace{0x01}, false)
	require.NoError(t, replica.ReplicateMasterSecretInto(recovered))
	_, err = replica.Init(interfaces.Hash{0xcc}, false)
	require.NoError(t, err)

	sourceChecksum, err := source.Checksum()
	require.NoError(t, err)
	replicaChecksum, err := replica.Checksum()
	require.NoError(t, err)
	assert.True(t, sourceChecksum.Equal(replicaChecksum))

	// A wrong key cannot open the sealed secret.
	wrong := replicaPair.PrivateKey
	wrong[0] ^= 0xff
	_, err = sealed.Decrypt(wrong)
	assert.Error(t, err)
}

func deriveTransferPair() (*KeyPair, error) {
	helper := NewKdf(interfaces.Namespace{0xff}, false)
	if err := helper.ReplicateMasterSecretInto([]byte("0123456789abcdef0123456789abcdef")); err != nil {
		return nil, err
	}
	if _, err := helper.Init(interfaces.Hash{}, false); err != nil {
		return nil, err
	}
	return helper.GetOrCreateKeys(interfaces.Namespace{0xfe}, interfaces.Hash{0xfd})
}

func TestSignedInitResponse(t *testing.T) {
	rak, err := cryptoutils.NewRAKFromSeed(make([]byte, 32), cryptoutils.DummyAttestationProvider{})
	require.NoError(t, err)

	resp := &InitResponse{
		IsSecure:       true,
		Checksum:       interfaces.Hash{0x01},
		PolicyChecksum: interfaces.Hash{0x02},
	}
	signed, err := SignInitResponse(rak, resp)
	require.NoError(t, err)
	require.NoError(t, signed.Verify(rak.Public()))

	// A tampered response fails verification.
	signed.InitResponse.IsSecure = false
	assert.Error(t, signed.Verify(rak.Public()))

	// A different RAK fails verification.
	signed.InitResponse.IsSecure = true
	otherRAK, err := cryptoutils.NewRAK(cryptoutils.DummyAttestationProvider{})
	require.NoError(t, err)
	assert.Error(t, signed.Verify(otherRAK.Public()))
}
