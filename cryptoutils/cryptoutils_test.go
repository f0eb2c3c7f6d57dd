package cryptoutils

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quicklock/lock-pairing-backend/interfaces"
)

func newEnvelopeKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, EnvelopeKeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestEnvelopeRoundTrip(t *testing.T) {
	key := newEnvelopeKey(t)

	testCases := []struct {
		name string
		data []byte
	}{
		{"JSON data", []byte(`{"id":"abc","entityId":"front-door"}`)},
		{"binary data", []byte{0x00, 0x01, 0xff, 0xfe}},
		{"empty", []byte{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sealed, err := SealEnvelope(tc.data, key)
			require.NoError(t, err)

			opened, err := OpenEnvelope(sealed, key)
			require.NoError(t, err)
			require.Equal(t, tc.data, opened)
		})
	}
}

func TestEnvelopeWrongKey(t *testing.T) {
	sealed, err := SealEnvelope([]byte("payload"), newEnvelopeKey(t))
	require.NoError(t, err)

	_, err = OpenEnvelope(sealed, newEnvelopeKey(t))
	assert.Error(t, err)
}

func TestEnvelopeTamperedCiphertext(t *testing.T) {
	key := newEnvelopeKey(t)
	sealed, err := SealEnvelope([]byte("payload"), key)
	require.NoError(t, err)

	var env RequestEnvelope
	require.NoError(t, json.Unmarshal(sealed, &env))
	env.EncPayload[0] ^= 0x01
	tampered, err := json.Marshal(env)
	require.NoError(t, err)

	_, err = OpenEnvelope(tampered, key)
	assert.Error(t, err)
}

func TestEnvelopeMalformed(t *testing.T) {
	key := newEnvelopeKey(t)

	_, err := OpenEnvelope([]byte("not json"), key)
	assert.Error(t, err)

	_, err = OpenEnvelope([]byte(`{"p":"YWJj","n":"c2hvcnQ"}`), key)
	assert.Error(t, err)
}

func TestEnvelopeBadKeyLength(t *testing.T) {
	_, err := SealEnvelope([]byte("payload"), []byte("short key"))
	assert.Error(t, err)
}

func TestMACVerify(t *testing.T) {
	key := []byte("shared one-time secret")
	payload := []byte("finish payload bytes")

	tag := ComputeMAC(key, payload)
	require.NoError(t, VerifyMAC(key, payload, tag))

	err := VerifyMAC(key, []byte("different payload"), tag)
	assert.ErrorIs(t, err, interfaces.ErrMacInvalid)

	err = VerifyMAC([]byte("different key"), payload, tag)
	assert.ErrorIs(t, err, interfaces.ErrMacInvalid)
}

func TestECSignerRoundTrip(t *testing.T) {
	signer, err := NewECSigner()
	require.NoError(t, err)

	payload := []byte("signed bytes")
	sig, err := signer.Sign(payload)
	require.NoError(t, err)

	require.NoError(t, AlgorithmEC.Verify(signer.Public(), payload, sig))
	assert.Error(t, AlgorithmEC.Verify(signer.Public(), []byte("other bytes"), sig))

	other, err := NewECSigner()
	require.NoError(t, err)
	assert.Error(t, AlgorithmEC.Verify(other.Public(), payload, sig))
}

func TestECSignerPersistence(t *testing.T) {
	signer, err := NewECSigner()
	require.NoError(t, err)

	der, err := signer.MarshalPrivate()
	require.NoError(t, err)

	restored, err := NewECSignerFromDER(der)
	require.NoError(t, err)
	assert.Equal(t, signer.Public(), restored.Public())

	// A signature from the restored key verifies against the original
	// public key.
	sig, err := restored.Sign([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, AlgorithmEC.Verify(signer.Public(), []byte("payload"), sig))

	_, err = NewECSignerFromDER([]byte("garbage"))
	assert.Error(t, err)
}

func TestVerifyAuditStamp(t *testing.T) {
	auditPub, auditPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	signer, err := NewECSigner()
	require.NoError(t, err)
	device := &interfaces.PairedDevice{
		ID:         signer.Public().Fingerprint(),
		PrimaryKey: signer.Public(),
		AuditKey:   auditPub,
	}

	sealed := []byte(`{"p":"abc","n":"def"}`)
	stampBytes, err := json.Marshal(interfaces.AuditStamp{
		EnvelopeHash:     Hash(sealed),
		ClientIdentifier: string(device.ID),
		Timestamp:        time.Now().UnixMilli(),
	})
	require.NoError(t, err)
	auditSig := ed25519.Sign(auditPriv, stampBytes)

	stamp, err := VerifyAuditStamp(device, stampBytes, auditSig, sealed)
	require.NoError(t, err)
	assert.Equal(t, string(device.ID), stamp.ClientIdentifier)

	// Same valid stamp attached to a different envelope.
	_, err = VerifyAuditStamp(device, stampBytes, auditSig, []byte("other envelope"))
	assert.ErrorIs(t, err, interfaces.ErrEnvelopeMismatch)

	// Stamp issued for another device.
	otherStamp, err := json.Marshal(interfaces.AuditStamp{
		EnvelopeHash:     Hash(sealed),
		ClientIdentifier: "someone-else",
		Timestamp:        time.Now().UnixMilli(),
	})
	require.NoError(t, err)
	_, err = VerifyAuditStamp(device, otherStamp, ed25519.Sign(auditPriv, otherStamp), sealed)
	assert.ErrorIs(t, err, interfaces.ErrEnvelopeMismatch)

	// Signature by the wrong audit key.
	_, wrongPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, err = VerifyAuditStamp(device, stampBytes, ed25519.Sign(wrongPriv, stampBytes), sealed)
	assert.Error(t, err)
}

func TestVerifyClientSignature(t *testing.T) {
	signer, err := NewECSigner()
	require.NoError(t, err)
	device := &interfaces.PairedDevice{
		ID:         signer.Public().Fingerprint(),
		PrimaryKey: signer.Public(),
	}

	sealed := []byte("sealed envelope bytes")
	sig, err := signer.Sign(sealed)
	require.NoError(t, err)

	require.NoError(t, VerifyClientSignature(device, sealed, sig))
	assert.Error(t, VerifyClientSignature(device, []byte("other"), sig))
}

func TestGenerateSecretUniqueness(t *testing.T) {
	a, err := GenerateSecret()
	require.NoError(t, err)
	b, err := GenerateSecret()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "/")
	assert.NotContains(t, a, "+")
}
