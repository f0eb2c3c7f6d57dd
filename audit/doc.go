// Package audit implements the co-signing audit authority and its client.
//
// The co-signer is an independent service: it never sees request plaintext,
// only sealed envelope bytes. A device registers its public key once and
// receives a per-client Ed25519 co-signing key in return; that key's public
// half travels to the lock server inside the pairing finish payload, which is
// what lets the lock server verify stamps without ever talking to the
// co-signer.
//
// Every sign call appends to the client's event log before the signature is
// produced, so the log is a superset of everything the co-signer ever vouched
// for. The stamp binds the envelope hash, the client identity, and the signing
// time; the lock server rejects stamps whose hash does not match the envelope
// it actually received.
package audit
