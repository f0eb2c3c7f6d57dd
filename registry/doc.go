// Package registry implements the authoritative device registry and the
// single-use challenge stores backing the pairing and unlock protocols.
//
// The device registry is the sole authority on whether a key is allowed to
// act on an entity. It holds all enrolled devices in memory, guarded by a
// read-write mutex, and persists every mutation through a storage backend
// before acknowledging it. The persisted record is a JSON device list stored
// under a fixed record name, so redundant backends all converge on the same
// registry state.
//
// Two mutation paths exist:
//
//   - AddInitialDevice commits the very first device. Emptiness is re-checked
//     under the write lock, so two racing factory enrollments cannot both
//     commit.
//
//   - AddDevice commits a delegated device. Committing the same fingerprint
//     twice is a no-op, which makes delegated finish calls safe to retry.
//
// Challenge stores are in-memory only. Challenges are short-lived, single-use
// nonces; losing them on restart just means the client restarts its flow.
// Entries expire after a fixed TTL and Take consumes atomically, so at most
// one concurrent caller can redeem a given challenge.
package registry
