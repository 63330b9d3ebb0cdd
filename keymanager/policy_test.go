package keymanager

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/enclave-trust-core/cryptoutils"
	"github.com/ruteri/enclave-trust-core/interfaces"
)

func newPolicySigners(t *testing.T, n int) []*cryptoutils.Signer {
	t.Helper()
	signers := make([]*cryptoutils.Signer, n)
	for i := range signers {
		seed := make([]byte, 32)
		seed[0] = byte(i + 1)
		signer, err := cryptoutils.NewSignerFromSeed(seed)
		require.NoError(t, err)
		signers[i] = signer
	}
	return signers
}

func signedPolicy(t *testing.T, content PolicyContent, signers ...*cryptoutils.Signer) *SignedPolicy {
	t.Helper()
	signed := &SignedPolicy{Policy: content}
	for _, signer := range signers {
		sig, err := SignPolicy(&content, signer)
		require.NoError(t, err)
		signed.Signatures = append(signed.Signatures, *sig)
	}
	return signed
}

func TestPolicyThreshold(t *testing.T) {
	signers := newPolicySigners(t, 2)
	trusted := []interfaces.PublicKey{signers[0].Public(), signers[1].Public()}

	policy, err := NewPolicy(trusted, 2)
	require.NoError(t, err)

	content := PolicyContent{Serial: 1, RuntimeID: interfaces.Namespace{0x01}}

	// One of two signatures does not meet the threshold.
	_, err = policy.Init(signedPolicy(t, content, signers[0]))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPolicyInvalid))

	// Both signatures succeed exactly once.
	checksum, err := policy.Init(signedPolicy(t, content, signers[0], signers[1]))
	require.NoError(t, err)
	assert.False(t, checksum.IsEmpty())

	got, err := policy.Checksum()
	require.NoError(t, err)
	assert.True(t, got.Equal(checksum))
}

func TestPolicyDuplicateSignaturesDoNotCount(t *testing.T) {
	signers := newPolicySigners(t, 2)
	trusted := []interfaces.PublicKey{signers[0].Public(), signers[1].Public()}

	policy, err := NewPolicy(trusted, 2)
	require.NoError(t, err)

	content := PolicyContent{Serial: 1, RuntimeID: interfaces.Namespace{0x01}}
	_, err = policy.Init(signedPolicy(t, content, signers[0], signers[0]))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPolicyInvalid))
}

func TestPolicyUntrustedSignerIgnored(t *testing.T) {
	signers := newPolicySigners(t, 3)
	trusted := []interfaces.PublicKey{signers[0].Public()}

	policy, err := NewPolicy(trusted, 1)
	require.NoError(t, err)

	content := PolicyContent{Serial: 1, RuntimeID: interfaces.Namespace{0x01}}
	_, err = policy.Init(signedPolicy(t, content, signers[1], signers[2]))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPolicyInvalid))
}

func TestPolicyRollbackRejected(t *testing.T) {
	signers := newPolicySigners(t, 1)
	policy, err := NewPolicy([]interfaces.PublicKey{signers[0].Public()}, 1)
	require.NoError(t, err)

	_, err = policy.Init(signedPolicy(t, PolicyContent{Serial: 5}, signers[0]))
	require.NoError(t, err)

	_, err = policy.Init(signedPolicy(t, PolicyContent{Serial: 4}, signers[0]))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPolicyRollback))

	// Re-installing the active serial is allowed and stable.
	checksum1, err := policy.Init(signedPolicy(t, PolicyContent{Serial: 5}, signers[0]))
	require.NoError(t, err)
	checksum2, err := policy.Checksum()
	require.NoError(t, err)
	assert.True(t, checksum1.Equal(checksum2))

	// A different document under the active serial is a conflict, not an
	// update; the installed checksum stays put.
	conflicting := PolicyContent{Serial: 5, MayQuery: []interfaces.Namespace{{0x09}}}
	_, err = policy.Init(signedPolicy(t, conflicting, signers[0]))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPolicyRollback))

	got, err := policy.Checksum()
	require.NoError(t, err)
	assert.True(t, got.Equal(checksum1))
	assert.False(t, policy.MayQuery(interfaces.Namespace{0x09}))
}

func TestPolicyAuthorization(t *testing.T) {
	signers := newPolicySigners(t, 1)
	policy, err := NewPolicy([]interfaces.PublicKey{signers[0].Public()}, 1)
	require.NoError(t, err)

	// Nothing is authorized before a policy is installed.
	assert.False(t, policy.MayReplicate(interfaces.PublicKey{0x01}))
	assert.False(t, policy.MayQuery(interfaces.Namespace{0x01}))

	content := PolicyContent{
		Serial:       1,
		RuntimeID:    interfaces.Namespace{0x33},
		MayReplicate: []interfaces.PublicKey{{0xaa}},
		MayQuery:     []interfaces.Namespace{{0x01}},
	}
	_, err = policy.Init(signedPolicy(t, content, signers[0]))
	require.NoError(t, err)

	assert.True(t, policy.MayReplicate(interfaces.PublicKey{0xaa}))
	assert.False(t, policy.MayReplicate(interfaces.PublicKey{0xbb}))
	assert.True(t, policy.MayQuery(interfaces.Namespace{0x01}))
	assert.False(t, policy.MayQuery(interfaces.Namespace{0x02}))
}
