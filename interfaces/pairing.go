package interfaces

// PairFinishPayload is the device-generated enrollment document. Its
// serialized bytes are the unit of authentication: the initial flow MACs them
// with the one-time secret and the delegated flow embeds them byte-for-byte in
// the signed Delegation, never a re-encoded copy.
type PairFinishPayload struct {
	ChallengeID ChallengeID `json:"challengeId"`

	// PrimaryPublicKey and DelegationPublicKey are base64 DER keys.
	PrimaryPublicKey    string `json:"publicKey"`
	DelegationPublicKey string `json:"delegationKey"`

	// EnvelopeKey is the base64 per-device envelope sealing key.
	EnvelopeKey string `json:"encKey"`

	// AuditPublicKey is the base64 Ed25519 key of the audit co-signer
	// instance the device registered with.
	AuditPublicKey string `json:"auditPublicKey"`

	// Attestation chains are base64 DER certificates, leaf first.
	PrimaryAttestationChain    []string `json:"attestationChain"`
	DelegationAttestationChain []string `json:"delegationAttestationChain"`
}

// Delegation is what a delegator signs with its delegation key to vouch for a
// new device. FinishPayload carries the exact uploaded payload bytes so the
// delegator cannot approve different content than the delegatee generated.
type Delegation struct {
	FinishPayload   []byte     `json:"finishPayload"`
	ExpiresAt       int64      `json:"expiresAt"` // unix milliseconds
	AllowedEntities []EntityID `json:"allowedEntities,omitempty"`
}

// PairStatus is the synchronous answer to the delegated-pairing poll.
type PairStatus string

const (
	// StatusPending means the challenge is live and not yet committed.
	StatusPending PairStatus = "pending"
	// StatusCommitted means the device was committed to the registry.
	StatusCommitted PairStatus = "committed"
	// StatusExpired means the challenge lapsed or was consumed by a failed
	// finish.
	StatusExpired PairStatus = "expired"
)
