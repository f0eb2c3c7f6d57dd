package cryptoutils

import (
	"encoding/json"

	"github.com/quicklock/lock-pairing-backend/interfaces"
)

// The lock server and the audit party mutually distrust each other; they are
// modeled as two independent signers over the same sealed envelope. The two
// functions below are the pure verification halves the unlock coordinator
// composes. Neither holds state.

// VerifyClientSignature checks the device's primary-key signature over the
// exact sealed envelope bytes.
func VerifyClientSignature(device *interfaces.PairedDevice, sealedEnvelope, signature []byte) error {
	return AlgorithmEC.Verify(device.PrimaryKey, sealedEnvelope, signature)
}

// VerifyAuditStamp checks the audit co-signature for a sealed envelope. The
// signature must verify over the exact stamp bytes under the device's
// registered audit key, and the stamp must bind this envelope and this device:
// a valid stamp attached to a different envelope is a cut-and-paste attack and
// fails with ErrEnvelopeMismatch.
func VerifyAuditStamp(device *interfaces.PairedDevice, stampBytes, auditSignature, sealedEnvelope []byte) (*interfaces.AuditStamp, error) {
	if err := (AlgorithmEd25519).Verify(interfaces.PublicKey(device.AuditKey), stampBytes, auditSignature); err != nil {
		return nil, err
	}

	var stamp interfaces.AuditStamp
	if err := json.Unmarshal(stampBytes, &stamp); err != nil {
		return nil, interfaces.ErrEnvelopeMismatch
	}
	if !ConstantTimeEq(stamp.EnvelopeHash, Hash(sealedEnvelope)) {
		return nil, interfaces.ErrEnvelopeMismatch
	}
	if stamp.ClientIdentifier != string(device.ID) {
		return nil, interfaces.ErrEnvelopeMismatch
	}
	return &stamp, nil
}
