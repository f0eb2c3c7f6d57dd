package interfaces

import "errors"

// Rejection taxonomy for pairing and unlock operations. Every verification
// failure maps to exactly one of these sentinels. HTTP handlers collapse them
// into a generic rejection; only server-side logs carry the exact cause.
var (
	// ErrExpiredChallenge indicates a challenge outside the grace window.
	ErrExpiredChallenge = errors.New("challenge expired")

	// ErrUnknownChallenge indicates a challenge that does not exist or was
	// already consumed.
	ErrUnknownChallenge = errors.New("unknown challenge")

	// ErrChallengePending is the one expected non-failure: the delegated
	// pairing flow has not completed yet and the caller should poll again.
	ErrChallengePending = errors.New("challenge still pending")

	// ErrAttestationInvalid covers any attestation failure: bad chain,
	// wrong challenge binding, or insufficient security level.
	ErrAttestationInvalid = errors.New("attestation invalid")

	// ErrSignatureInvalid indicates a signature that does not verify.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrMacInvalid indicates a failed initial-pairing MAC check.
	ErrMacInvalid = errors.New("mac invalid")

	// ErrDeviceNotPaired indicates an unknown device key.
	ErrDeviceNotPaired = errors.New("device not paired")

	// ErrDeviceExpired indicates a paired device whose access lapsed.
	ErrDeviceExpired = errors.New("device access expired")

	// ErrEntityNotAllowed indicates an entity outside the device's grant.
	ErrEntityNotAllowed = errors.New("entity not allowed")

	// ErrEnvelopeMismatch indicates an audit stamp bound to a different
	// envelope than the one received.
	ErrEnvelopeMismatch = errors.New("audit stamp does not match envelope")

	// ErrDuplicateSubmission indicates a write-once violation.
	ErrDuplicateSubmission = errors.New("duplicate submission")

	// ErrRegistryConflict indicates a lost initial-pairing race: another
	// device was committed first.
	ErrRegistryConflict = errors.New("registry already has a paired device")

	// ErrEntityNotFound indicates an entity missing from configuration.
	ErrEntityNotFound = errors.New("entity not found")
)

// Storage errors returned by StorageBackend implementations.
var (
	// ErrRecordNotFound indicates the named record does not exist.
	ErrRecordNotFound = errors.New("record not found")

	// ErrBackendUnavailable indicates the storage backend is not accessible.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI indicates a malformed storage location URI.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)
