// Package storage provides named-record persistence with pluggable backends.
//
// The device registry and the audit co-signer persist small named records
// (the paired-device list, per-client audit logs) that are rewritten in full
// on every mutation. The storage package offers a unified interface over
// several backends:
//
//   - File system storage for local deployments
//   - S3-compatible object storage
//   - IPFS (via the mutable files API)
//   - Vault KV v2
//
// # Storage URI Format
//
// Storage backends are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/lockd/
//   - s3://bucket-name/prefix/?region=us-west-2
//   - ipfs://ipfs.example.com:5001/
//   - vault://vault.example.com:8200/secret/lockd
//
// # Redundancy
//
// CreateMultiBackend aggregates several backends: stores go to every
// available backend, fetches return the first hit. The registry treats the
// first configured backend as authoritative on load.
package storage
