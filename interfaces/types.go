package interfaces

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// PublicKey holds a DER-encoded SubjectPublicKeyInfo. The base64 form is the
// durable identifier devices present on the wire.
type PublicKey []byte

// NewPublicKeyFromBase64 decodes a base64 DER public key with validation.
func NewPublicKeyFromBase64(data string) (PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("invalid public key encoding: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("empty public key")
	}
	return PublicKey(raw), nil
}

// String returns the base64 wire representation.
func (pk PublicKey) String() string {
	return base64.StdEncoding.EncodeToString(pk)
}

// Fingerprint derives the device identifier for this key. The URL-safe
// alphabet keeps the id usable in request paths and record names.
func (pk PublicKey) Fingerprint() DeviceID {
	sum := sha256.Sum256(pk)
	return DeviceID(base64.RawURLEncoding.EncodeToString(sum[:]))
}

// DeviceID identifies a paired device: the base64 SHA-256 fingerprint of the
// device's primary public key.
type DeviceID string

// EntityID names a physical lock entity from the server configuration.
type EntityID string

// ChallengeID is a base64-encoded 256-bit random challenge identifier.
type ChallengeID string

// ChallengeKind distinguishes the two enrollment flows.
type ChallengeKind string

const (
	// KindInitial is the factory enrollment flow, only available while the
	// registry holds no devices.
	KindInitial ChallengeKind = "initial"

	// KindDelegated is the enrollment flow vouched for by an already
	// paired device.
	KindDelegated ChallengeKind = "delegated"
)

// PairingChallenge is a single-use enrollment challenge. It is consumed by
// exactly one finish call and deleted on success, failure, or expiry.
type PairingChallenge struct {
	ID        ChallengeID   `json:"id"`
	Timestamp int64         `json:"timestamp"` // unix milliseconds
	Kind      ChallengeKind `json:"kind"`
}

// UnlockChallenge is a single-use unlock challenge bound to one entity.
type UnlockChallenge struct {
	ID        ChallengeID `json:"id"`
	Timestamp int64       `json:"timestamp"` // unix milliseconds
	EntityID  EntityID    `json:"entityId"`
}

// PairedDevice is an enrolled device and its capability grant. Created only by
// a successful pairing finish.
type PairedDevice struct {
	ID DeviceID `json:"id"`

	// PrimaryKey authorizes normal actions (unlock).
	PrimaryKey PublicKey `json:"publicKey"`

	// DelegationKey authorizes vouching for new devices. Its attestation
	// must prove user-authentication-at-use and device-unlocked policy.
	DelegationKey PublicKey `json:"delegationKey"`

	// EnvelopeKey is the 32-byte symmetric key request envelopes from this
	// device are sealed under.
	EnvelopeKey []byte `json:"encKey"`

	// AuditKey is the Ed25519 public key of the audit co-signer instance
	// registered for this device.
	AuditKey []byte `json:"auditPublicKey"`

	// ExpiresAt bounds this device's access in unix milliseconds.
	ExpiresAt int64 `json:"expiresAt"`

	// DelegatedBy is the fingerprint of the device that authorized this
	// one. Empty for the initial device.
	DelegatedBy DeviceID `json:"delegatedBy,omitempty"`

	// AllowedEntities restricts which entities this device may unlock.
	// Nil means unrestricted.
	AllowedEntities []EntityID `json:"allowedEntities,omitempty"`
}

// Expired reports whether the device's access has lapsed at the given time.
func (d *PairedDevice) Expired(nowMillis int64) bool {
	return d.ExpiresAt < nowMillis
}

// MayAccess reports whether the device's capability grant covers the entity.
func (d *PairedDevice) MayAccess(entity EntityID) bool {
	if d.AllowedEntities == nil {
		return true
	}
	for _, e := range d.AllowedEntities {
		if e == entity {
			return true
		}
	}
	return false
}

// MayDelegate reports whether this device can vouch for a new one. Delegation
// depth is exactly one: only initially enrolled devices may delegate.
func (d *PairedDevice) MayDelegate() bool {
	return d.DelegatedBy == ""
}

// AuditStamp binds an envelope hash, client identity, and signing time. It is
// produced by the audit co-signer and carried as raw bytes so its signature
// verifies over the exact serialization.
type AuditStamp struct {
	EnvelopeHash     []byte `json:"envelopeHash"`
	ClientIdentifier string `json:"clientIdentifier"`
	Timestamp        int64  `json:"timestamp"` // unix milliseconds
}

// SignedRequestEnvelope is one authorized action in flight: the sealed request
// payload plus the device signature and audit co-signature over its exact
// bytes. Verified and discarded, never persisted.
type SignedRequestEnvelope struct {
	DeviceID DeviceID `json:"deviceId"`

	// SealedEnvelope is the authenticated-encrypted request payload. Both
	// signatures cover these exact bytes.
	SealedEnvelope []byte `json:"sealedEnvelope"`

	// ClientSignature is the device's signature under its primary key.
	ClientSignature []byte `json:"clientSignature"`

	// AuditStamp carries the co-signer's stamp as the raw bytes it signed.
	AuditStamp []byte `json:"auditStamp"`

	// AuditSignature is the co-signer's Ed25519 signature over AuditStamp.
	AuditSignature []byte `json:"auditSignature"`
}
