package interfaces

import "context"

// SecurityLevel is the hardware security level a key attestation claims, in
// increasing order of strength.
type SecurityLevel int

const (
	SecurityLevelSoftware SecurityLevel = iota
	SecurityLevelTrustedEnvironment
	SecurityLevelStrongBox
)

// String returns the level name.
func (l SecurityLevel) String() string {
	switch l {
	case SecurityLevelSoftware:
		return "software"
	case SecurityLevelTrustedEnvironment:
		return "trusted-environment"
	case SecurityLevelStrongBox:
		return "strongbox"
	default:
		return "unknown"
	}
}

// AtLeastTEE reports whether the level meets the minimum the protocol accepts.
func (l SecurityLevel) AtLeastTEE() bool {
	return l >= SecurityLevelTrustedEnvironment
}

// AttestedKey is the result of a successful attestation chain verification.
type AttestedKey struct {
	// PublicKey is the attested key from the leaf certificate, DER encoded.
	PublicKey PublicKey

	// AttestationLevel is the security level of the attestation itself.
	AttestationLevel SecurityLevel

	// KeymasterLevel is the security level the key was generated under.
	KeymasterLevel SecurityLevel
}

// AttestationVerifier validates a hardware key-attestation certificate chain
// against a trusted root set and checks the attested key's generation policy.
type AttestationVerifier interface {
	// VerifyChain validates an ordered, leaf-first certificate chain. The
	// leaf's attestation extension must embed exactly challengeID. With
	// requireStrongPresence the key policy must additionally require user
	// authentication at use and a generation-time unlocked device. Any
	// violation fails closed with ErrAttestationInvalid.
	VerifyChain(chain [][]byte, challengeID ChallengeID, requireStrongPresence bool) (*AttestedKey, error)
}

// Actuator is the external collaborator granting physical actuation.
type Actuator interface {
	// Unlock opens the entity's lock.
	Unlock(ctx context.Context, entity EntityID) error

	// Lock closes the entity's lock again.
	Lock(ctx context.Context, entity EntityID) error
}
