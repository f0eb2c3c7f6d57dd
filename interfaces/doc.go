// Package interfaces defines the core interfaces and types for the lock
// pairing and unlock authorization system.
//
// This package provides the contracts between different components of the
// system without including implementation details. It separates the interface
// definitions from their implementations, allowing for:
//
//   - Clear separation of concerns
//   - Multiple implementations of the same interface
//   - Better testability through mock implementations
//   - Reduced coupling between components
//
// The package contains several key interfaces:
//
// # Registry Interfaces
//
//   - DeviceRegistry: Sole authority on which paired device keys may actuate
//     which lock entities
//   - ChallengeStore: Single-use challenge state with atomic insert-if-absent
//     and remove-if-present semantics
//
// # Storage Interfaces
//
//   - StorageBackend: Named-record persistence for the device registry and
//     audit logs
//   - StorageBackendFactory: Creates storage backends from URI strings
//
// # Verification Interfaces
//
//   - AttestationVerifier: Validates hardware key-attestation certificate
//     chains against trusted vendor roots
//   - Actuator: External collaborator that physically locks and unlocks
//     entities
//
// # Type Definitions
//
//   - DeviceID: Base64 SHA-256 fingerprint of a device's primary public key
//   - PublicKey: DER-encoded SubjectPublicKeyInfo bytes
//   - PairedDevice: An enrolled device and its capability grant
//   - PairingChallenge / UnlockChallenge: Single-use protocol challenges
//
// # Error Types
//
// The package defines the full rejection taxonomy of the protocol
// (ErrAttestationInvalid, ErrSignatureInvalid, ErrDeviceExpired, ...). Every
// verification failure maps to exactly one of these sentinels; HTTP handlers
// intentionally collapse them into a generic rejection so callers cannot probe
// which check failed.
//
// # Usage Patterns
//
// Components should depend on interfaces rather than concrete implementations:
//
//	func NewCoordinator(
//	    registry interfaces.DeviceRegistry,
//	    verifier interfaces.AttestationVerifier,
//	    log *slog.Logger,
//	) *Coordinator {
//	    // ...
//	}
package interfaces
