package keymanager

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/enclave-trust-core/cryptoutils"
	"github.com/ruteri/enclave-trust-core/enclaverpc"
	"github.com/ruteri/enclave-trust-core/interfaces"
)

type kmEnv struct {
	t          *testing.T
	km         *KeyManager
	dispatcher *enclaverpc.Dispatcher
	signers    []*cryptoutils.Signer
	rak        *cryptoutils.RAK
	runtimeID  interfaces.Namespace
}

func newKmEnv(t *testing.T) *kmEnv {
	t.Helper()

	signers := newPolicySigners(t, 2)
	policy, err := NewPolicy([]interfaces.PublicKey{signers[0].Public(), signers[1].Public()}, 2)
	require.NoError(t, err)

	rak, err := cryptoutils.NewRAK(cryptoutils.DummyAttestationProvider{})
	require.NoError(t, err)

	runtimeID := interfaces.Namespace{0x33}
	km, err := New(Config{
		RuntimeID: runtimeID,
		RAK:       rak,
		Policy:    policy,
		Kdf:       NewKdf(runtimeID, false),
	})
	require.NoError(t, err)

	builder := enclaverpc.NewBuilder(nil)
	require.NoError(t, km.RegisterMethods(builder))
	dispatcher, err := builder.Build()
	require.NoError(t, err)

	return &kmEnv{
		t:          t,
		km:         km,
		dispatcher: dispatcher,
		signers:    signers,
		rak:        rak,
		runtimeID:  runtimeID,
	}
}

func (env *kmEnv) initPolicy(content PolicyContent) *SignedInitResponse {
	env.t.Helper()

	req, err := cryptoutils.MarshalCanonical(&InitRequest{
		SignedPolicy: *signedPolicy(env.t, content, env.signers...),
		MayGenerate:  true,
	})
	require.NoError(env.t, err)

	raw, err := env.dispatcher.DispatchLocal(context.Background(), MethodInit, req)
	require.NoError(env.t, err)

	var signed SignedInitResponse
	require.NoError(env.t, cryptoutils.UnmarshalCanonical(raw, &signed))
	return &signed
}

func TestInitIsLocalOnly(t *testing.T) {
	env := newKmEnv(t)

	req, err := cryptoutils.MarshalCanonical(&InitRequest{MayGenerate: true})
	require.NoError(t, err)

	_, err = env.dispatcher.DispatchRemote(context.Background(), MethodInit, req, nil)
	assert.True(t, errors.Is(err, enclaverpc.ErrMethodNotFound))
}

func TestKeyMethodsAreRemoteOnly(t *testing.T) {
	env := newKmEnv(t)
	env.initPolicy(PolicyContent{Serial: 1, RuntimeID: env.runtimeID})

	req, err := cryptoutils.MarshalCanonical(&GetOrCreateKeysRequest{
		RuntimeID: interfaces.Namespace{0x01},
		KeyPairID: interfaces.Hash{0x02},
	})
	require.NoError(t, err)

	_, err = env.dispatcher.DispatchLocal(context.Background(), MethodGetOrCreateKeys, req)
	assert.True(t, errors.Is(err, enclaverpc.ErrMethodNotFound))
}

func TestInitAndKeyDerivationFlow(t *testing.T) {
	env := newKmEnv(t)

	signed := env.initPolicy(PolicyContent{Serial: 1, RuntimeID: env.runtimeID})
	require.NoError(t, signed.Verify(env.rak.Public()))
	assert.False(t, signed.InitResponse.Checksum.IsEmpty())

	req, err := cryptoutils.MarshalCanonical(&GetOrCreateKeysRequest{
		RuntimeID: interfaces.Namespace{0x01},
		KeyPairID: interfaces.Hash{0x02},
	})
	require.NoError(t, err)

	raw, err := env.dispatcher.DispatchRemote(context.Background(), MethodGetOrCreateKeys, req, nil)
	require.NoError(t, err)
	var pair KeyPair
	require.NoError(t, cryptoutils.UnmarshalCanonical(raw, &pair))
	assert.NotEqual(t, [32]byte{}, pair.PublicKey)

	// The public key method agrees with the full derivation.
	pubReq, err := cryptoutils.MarshalCanonical(&GetPublicKeyRequest{
		RuntimeID: interfaces.Namespace{0x01},
		KeyPairID: interfaces.Hash{0x02},
	})
	require.NoError(t, err)
	raw, err = env.dispatcher.DispatchRemote(context.Background(), MethodGetPublicKey, pubReq, nil)
	require.NoError(t, err)
	var pub GetPublicKeyResponse
	require.NoError(t, cryptoutils.UnmarshalCanonical(raw, &pub))
	assert.Equal(t, pair.PublicKey, pub.PublicKey)
}

func TestQueryAuthorization(t *testing.T) {
	env := newKmEnv(t)
	env.initPolicy(PolicyContent{
		Serial:    1,
		RuntimeID: env.runtimeID,
		MayQuery:  []interfaces.Namespace{{0x01}},
	})

	denied, err := cryptoutils.MarshalCanonical(&GetOrCreateKeysRequest{
		RuntimeID: interfaces.Namespace{0x02},
		KeyPairID: interfaces.Hash{0x02},
	})
	require.NoError(t, err)

	_, err = env.dispatcher.DispatchRemote(context.Background(), MethodGetOrCreateKeys, denied, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotAuthorized))
}

func TestReplicationAuthorization(t *testing.T) {
	env := newKmEnv(t)

	peerRAK, err := cryptoutils.NewRAK(cryptoutils.DummyAttestationProvider{})
	require.NoError(t, err)
	peerID := peerRAK.Public()

	env.initPolicy(PolicyContent{
		Serial:       1,
		RuntimeID:    env.runtimeID,
		MayReplicate: []interfaces.PublicKey{peerID},
	})

	transferPair, err := deriveTransferPair()
	require.NoError(t, err)
	req, err := cryptoutils.MarshalCanonical(&ReplicateMasterSecretRequest{
		PublicKey: transferPair.PublicKey,
	})
	require.NoError(t, err)

	// Unauthenticated and unauthorized peers are refused.
	_, err = env.dispatcher.DispatchRemote(context.Background(), MethodReplicateMasterSecret, req, nil)
	assert.True(t, errors.Is(err, ErrNotAuthorized))

	stranger := interfaces.PublicKey{0x66}
	_, err = env.dispatcher.DispatchRemote(context.Background(), MethodReplicateMasterSecret, req, &stranger)
	assert.True(t, errors.Is(err, ErrNotAuthorized))

	// The authorized peer receives a sealed secret it can open.
	raw, err := env.dispatcher.DispatchRemote(context.Background(), MethodReplicateMasterSecret, req, &peerID)
	require.NoError(t, err)

	var resp ReplicateMasterSecretResponse
	require.NoError(t, cryptoutils.UnmarshalCanonical(raw, &resp))
	secret, err := resp.MasterSecret.Decrypt(transferPair.PrivateKey)
	require.NoError(t, err)
	assert.Len(t, secret, 32)
}
