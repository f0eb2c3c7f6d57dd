// Package clients implements the device side of the pairing and unlock
// protocols: key generation, finish payload construction, envelope sealing,
// audit registration and co-signing, and the HTTP calls against the lock
// server. The hardware keystore is abstracted behind the signer and
// attestation provider interfaces; a development provider stands in for it in
// tests and the CLI.
package clients
