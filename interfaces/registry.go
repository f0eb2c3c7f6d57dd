package interfaces

import "context"

// DeviceRegistry is the sole authority on whether a key is allowed to unlock
// an entity. Reads may proceed concurrently; mutations serialize on a single
// writer so two racing initial pairings cannot both commit.
type DeviceRegistry interface {
	// AddInitialDevice commits the first paired device. It re-checks
	// registry emptiness under the write lock and returns
	// ErrRegistryConflict if any device was committed concurrently.
	AddInitialDevice(ctx context.Context, device PairedDevice) error

	// AddDevice commits a delegated device. Re-adding an existing device
	// ID is a no-op.
	AddDevice(ctx context.Context, device PairedDevice) error

	// Device returns the paired device for the fingerprint. Returns
	// ErrDeviceNotPaired for unknown IDs and ErrDeviceExpired for devices
	// whose access lapsed.
	Device(id DeviceID) (PairedDevice, error)

	// DeviceForEntity is Device plus a capability check, returning
	// ErrEntityNotAllowed if the grant does not cover the entity.
	DeviceForEntity(id DeviceID, entity EntityID) (PairedDevice, error)

	// HasDevices reports whether any device is enrolled. Used to choose
	// the pairing challenge kind.
	HasDevices() bool
}

// ChallengeStore holds single-use challenge state keyed by challenge ID. All
// operations are atomic: PutIfAbsent fails if the key exists, and Take removes
// exactly once even under concurrent callers.
type ChallengeStore[T any] interface {
	// PutIfAbsent inserts the value if no entry exists for the ID.
	// Reports whether the insert happened.
	PutIfAbsent(id ChallengeID, value T) bool

	// Get returns the value without consuming it.
	Get(id ChallengeID) (T, bool)

	// Take removes and returns the value. At most one concurrent caller
	// observes ok == true for a given ID.
	Take(id ChallengeID) (T, bool)

	// Delete removes the value if present.
	Delete(id ChallengeID)
}
