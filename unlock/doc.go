// Package unlock implements the challenge-response unlock protocol.
//
// A client starts an unlock to receive a single-use challenge bound to one
// entity, seals the challenge into an envelope under its per-device key, has
// the audit co-signer countersign the sealed bytes, and finishes with the
// bundle of both signatures. The coordinator consumes the challenge before
// any verification, so a replayed finish always observes an unknown
// challenge. Every check fails closed: nothing actuates unless the device
// signature, audit stamp binding, audit signature, and sealed challenge all
// verify.
//
// A successful unlock schedules an automatic re-lock on a detached timer. The
// timer is independent of the request's lifetime and fires even if the caller
// disconnects, so a lock is never left open by a misbehaving client.
package unlock
