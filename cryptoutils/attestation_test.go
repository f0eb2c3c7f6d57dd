package cryptoutils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quicklock/lock-pairing-backend/interfaces"
)

const testGrace = 5 * time.Minute

func newAttestationFixture(t *testing.T) (*DevAttestationProvider, *AttestationVerifier, interfaces.PublicKey) {
	t.Helper()
	provider, err := NewDevAttestationProvider()
	require.NoError(t, err)
	verifier := NewAttestationVerifier([][]byte{provider.Root()}, testGrace)

	signer, err := NewECSigner()
	require.NoError(t, err)
	return provider, verifier, signer.Public()
}

func TestVerifyChain(t *testing.T) {
	provider, verifier, pub := newAttestationFixture(t)
	challengeID := interfaces.ChallengeID("pairing-challenge-1")

	chain, err := provider.AttestKey(pub, challengeID, false)
	require.NoError(t, err)

	attested, err := verifier.VerifyChain(chain, challengeID, false)
	require.NoError(t, err)
	assert.Equal(t, pub, attested.PublicKey)
	assert.True(t, attested.AttestationLevel.AtLeastTEE())
}

func TestVerifyChainStrongPresence(t *testing.T) {
	provider, verifier, pub := newAttestationFixture(t)
	challengeID := interfaces.ChallengeID("pairing-challenge-2")

	strongChain, err := provider.AttestKey(pub, challengeID, true)
	require.NoError(t, err)
	_, err = verifier.VerifyChain(strongChain, challengeID, true)
	require.NoError(t, err)

	// A key without the user-auth and unlocked-device requirements must not
	// pass as a delegation key.
	weakChain, err := provider.AttestKey(pub, challengeID, false)
	require.NoError(t, err)
	_, err = verifier.VerifyChain(weakChain, challengeID, true)
	assert.ErrorIs(t, err, interfaces.ErrAttestationInvalid)
}

func TestVerifyChainChallengeMismatch(t *testing.T) {
	provider, verifier, pub := newAttestationFixture(t)

	chain, err := provider.AttestKey(pub, "challenge-a", false)
	require.NoError(t, err)

	_, err = verifier.VerifyChain(chain, "challenge-b", false)
	assert.ErrorIs(t, err, interfaces.ErrAttestationInvalid)
}

func TestVerifyChainUntrustedRoot(t *testing.T) {
	provider, _, pub := newAttestationFixture(t)

	// A verifier anchored on a different root.
	otherProvider, err := NewDevAttestationProvider()
	require.NoError(t, err)
	verifier := NewAttestationVerifier([][]byte{otherProvider.Root()}, testGrace)

	chain, err := provider.AttestKey(pub, "challenge", false)
	require.NoError(t, err)

	_, err = verifier.VerifyChain(chain, "challenge", false)
	assert.ErrorIs(t, err, interfaces.ErrAttestationInvalid)
}

func TestVerifyChainMalformed(t *testing.T) {
	provider, verifier, pub := newAttestationFixture(t)

	chain, err := provider.AttestKey(pub, "challenge", false)
	require.NoError(t, err)

	tests := []struct {
		name  string
		chain [][]byte
	}{
		{"empty", nil},
		{"garbage cert", [][]byte{[]byte("not DER"), provider.Root()}},
		// The leaf is not a trust anchor, so a chain of just the leaf has
		// no trusted root.
		{"leaf only", chain[:1]},
		// The root alone carries no attestation extension.
		{"root only", [][]byte{provider.Root()}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := verifier.VerifyChain(tc.chain, "challenge", false)
			assert.ErrorIs(t, err, interfaces.ErrAttestationInvalid)
		})
	}
}

func TestVerifyChainExpiredLeaf(t *testing.T) {
	provider, verifier, pub := newAttestationFixture(t)

	chain, err := provider.AttestKey(pub, "challenge", false)
	require.NoError(t, err)

	// The dev leaf is valid for a year; two years out it must be rejected.
	future := verifier.WithClock(func() time.Time { return time.Now().AddDate(2, 0, 0) })
	_, err = future.VerifyChain(chain, "challenge", false)
	assert.ErrorIs(t, err, interfaces.ErrAttestationInvalid)
}
