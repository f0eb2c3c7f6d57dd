// Package cryptoutils provides the cryptographic primitives of the lock
// pairing protocol: signature verification for device identity keys,
// authenticated envelope sealing, pairing MACs, and hardware key-attestation
// chain verification.
//
// # Signatures
//
// Device identity keys are ECDSA P-256 keys whose signatures are verified in
// ASN.1 form over exact payload bytes. Audit co-signers use Ed25519. The
// SigningAlgorithm tagged variant selects between them with a common
// sign/verify capability, so coordinators never branch on key types.
//
// # Envelopes
//
// Request payloads are sealed with XChaCha20-Poly1305 under a per-device
// 32-byte envelope key before they leave the device. Signatures and audit
// stamps are computed over the sealed bytes, never the plaintext, so the audit
// party co-signs without payload visibility.
//
// # Attestation
//
// The attestation verifier validates a leaf-first X.509 chain against a fixed
// trusted-root set (byte-exact, constant-time root comparison) and parses the
// leaf's key description extension to enforce challenge binding, minimum
// hardware security level, and - for delegation keys - user-presence policy.
// Every violation fails closed with interfaces.ErrAttestationInvalid.
package cryptoutils
