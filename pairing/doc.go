// Package pairing implements the enrollment state machine for both the
// initial (factory) flow and the delegated flow.
//
// Each challenge moves through issued, finish-payload-submitted, and committed
// states, or drops on expiry or any verification failure. Challenge state
// lives in single-use stores: a finish call consumes its challenge atomically
// before any verification runs, so a failed finish can never be retried
// against the same challenge and partial state never survives.
//
// Initial flow: the coordinator holds a one-time secret generated out of band
// (shown once, typically as a QR code). The finish call presents the exact
// finish-payload bytes and an HMAC over them; the secret is invalidated on
// first use whether or not the MAC verifies. Both attestation chains must bind
// to the challenge and prove TEE-backed key generation, the delegation key
// additionally proving user-presence policy.
//
// Delegated flow: the new device uploads its finish payload (write-once), an
// already enrolled device downloads it, signs a Delegation over those exact
// bytes with its delegation key, and posts the signature. Commit intersects
// the requested capability with the delegator's own grant so delegation never
// widens access, and only initially enrolled devices may delegate.
package pairing
