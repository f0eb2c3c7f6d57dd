package pairing

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/atomic"

	"github.com/quicklock/lock-pairing-backend/cryptoutils"
	"github.com/quicklock/lock-pairing-backend/interfaces"
	"github.com/quicklock/lock-pairing-backend/metrics"
	"github.com/quicklock/lock-pairing-backend/registry"
)

// Config holds pairing coordinator tuning knobs.
type Config struct {
	// GraceWindow bounds challenge freshness and clock skew tolerance.
	GraceWindow time.Duration

	// InitialDeviceValidity is how long the initially enrolled device's
	// access lasts. Delegated devices get their expiry from the signed
	// delegation, capped by the delegator's own.
	InitialDeviceValidity time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		GraceWindow:           5 * time.Minute,
		InitialDeviceValidity: 365 * 24 * time.Hour,
	}
}

// Coordinator drives device enrollment. All challenge state is single-use:
// finish calls consume their challenge before verification, so failures drop
// the challenge and any uploaded payload.
type Coordinator struct {
	registry interfaces.DeviceRegistry
	verifier interfaces.AttestationVerifier
	log      *slog.Logger
	cfg      Config

	challenges interfaces.ChallengeStore[interfaces.PairingChallenge]
	payloads   interfaces.ChallengeStore[[]byte]
	committed  interfaces.ChallengeStore[interfaces.DeviceID]

	// initialSecret is the one-time out-of-band enrollment secret. Swapped
	// to empty on first use, success or not.
	initialSecret atomic.String

	now func() int64
}

// NewCoordinator creates a pairing coordinator.
func NewCoordinator(deviceRegistry interfaces.DeviceRegistry, verifier interfaces.AttestationVerifier, cfg Config, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		registry:   deviceRegistry,
		verifier:   verifier,
		log:        logger,
		cfg:        cfg,
		challenges: registry.NewChallengeCache[interfaces.PairingChallenge](cfg.GraceWindow),
		payloads:   registry.NewChallengeCache[[]byte](cfg.GraceWindow),
		committed:  registry.NewChallengeCache[interfaces.DeviceID](cfg.GraceWindow),
		now:        func() int64 { return time.Now().UnixMilli() },
	}
}

// WithClock overrides the time source used for freshness checks and expiries.
func (c *Coordinator) WithClock(now func() int64) *Coordinator {
	c.now = now
	return c
}

// NewInitialSecret generates the one-time factory enrollment secret and arms
// the initial flow with it. The caller displays it out of band, typically as
// a QR code. Only available while no device is enrolled.
func (c *Coordinator) NewInitialSecret() (string, error) {
	if c.registry.HasDevices() {
		return "", interfaces.ErrRegistryConflict
	}
	secret, err := cryptoutils.GenerateSecret()
	if err != nil {
		return "", fmt.Errorf("failed to generate pairing secret: %w", err)
	}
	c.initialSecret.Store(secret)
	return secret, nil
}

// GetChallenge issues a new single-use pairing challenge. The kind is initial
// only while the registry is empty; emptiness is re-checked at commit, so a
// racing second initial enrollment cannot slip through on a stale kind.
func (c *Coordinator) GetChallenge() (interfaces.PairingChallenge, error) {
	kind := interfaces.KindDelegated
	if !c.registry.HasDevices() {
		kind = interfaces.KindInitial
	}

	id, err := cryptoutils.NewChallengeID()
	if err != nil {
		return interfaces.PairingChallenge{}, fmt.Errorf("failed to generate challenge: %w", err)
	}

	challenge := interfaces.PairingChallenge{
		ID:        id,
		Timestamp: c.now(),
		Kind:      kind,
	}
	if !c.challenges.PutIfAbsent(id, challenge) {
		return interfaces.PairingChallenge{}, interfaces.ErrRegistryConflict
	}

	c.log.Debug("Issued pairing challenge",
		slog.String("challenge_id", string(id)),
		slog.String("kind", string(kind)))
	return challenge, nil
}

// FinishInitial completes the factory enrollment flow. The MAC must verify
// over the exact payload bytes under the one-time secret; the secret is
// invalidated on first use regardless of outcome.
func (c *Coordinator) FinishInitial(ctx context.Context, challengeID interfaces.ChallengeID, payloadBytes, mac []byte) (interfaces.DeviceID, error) {
	challenge, ok := c.challenges.Take(challengeID)
	if !ok {
		return "", interfaces.ErrUnknownChallenge
	}
	if challenge.Kind != interfaces.KindInitial {
		return "", interfaces.ErrUnknownChallenge
	}
	if !c.fresh(challenge.Timestamp) {
		return "", interfaces.ErrExpiredChallenge
	}

	secret := c.initialSecret.Swap("")
	if secret == "" {
		return "", interfaces.ErrMacInvalid
	}
	if err := cryptoutils.VerifyMAC([]byte(secret), payloadBytes, mac); err != nil {
		return "", err
	}

	device, err := c.verifyPayload(payloadBytes, challengeID)
	if err != nil {
		return "", err
	}
	device.ExpiresAt = c.now() + c.cfg.InitialDeviceValidity.Milliseconds()

	if err := c.registry.AddInitialDevice(ctx, *device); err != nil {
		return "", err
	}

	c.committed.PutIfAbsent(challengeID, device.ID)
	metrics.PairingsCommitted.Inc()
	c.log.Info("Initial device enrolled", slog.String("device_id", string(device.ID)))
	return device.ID, nil
}

// SubmitFinishPayload stores the delegatee's finish payload for the delegator
// to review. Write-once per challenge.
func (c *Coordinator) SubmitFinishPayload(challengeID interfaces.ChallengeID, payloadBytes []byte) error {
	challenge, ok := c.challenges.Get(challengeID)
	if !ok || challenge.Kind != interfaces.KindDelegated {
		return interfaces.ErrUnknownChallenge
	}
	if !c.fresh(challenge.Timestamp) {
		return interfaces.ErrExpiredChallenge
	}
	if !c.payloads.PutIfAbsent(challengeID, payloadBytes) {
		return interfaces.ErrDuplicateSubmission
	}
	return nil
}

// FinishPayload returns the uploaded payload for the delegator to sign.
// Returns ErrChallengePending while the delegatee has not uploaded yet.
func (c *Coordinator) FinishPayload(challengeID interfaces.ChallengeID) ([]byte, error) {
	if _, ok := c.challenges.Get(challengeID); !ok {
		return nil, interfaces.ErrUnknownChallenge
	}
	payload, ok := c.payloads.Get(challengeID)
	if !ok {
		return nil, interfaces.ErrChallengePending
	}
	return payload, nil
}

// FinishDelegated completes the delegated enrollment flow. The delegation
// bytes must verify under the delegator's delegation key and embed the exact
// uploaded payload; the committed capability is the intersection of the
// delegation's grant and the delegator's own.
func (c *Coordinator) FinishDelegated(ctx context.Context, challengeID interfaces.ChallengeID, delegatorID interfaces.DeviceID, delegationBytes, signature []byte) (interfaces.DeviceID, error) {
	challenge, ok := c.challenges.Take(challengeID)
	if !ok {
		return "", interfaces.ErrUnknownChallenge
	}
	// All uploaded state goes with the challenge, success or not.
	payloadBytes, hadPayload := c.payloads.Take(challengeID)

	if challenge.Kind != interfaces.KindDelegated {
		return "", interfaces.ErrUnknownChallenge
	}
	if !c.fresh(challenge.Timestamp) {
		return "", interfaces.ErrExpiredChallenge
	}
	if !hadPayload {
		return "", interfaces.ErrChallengePending
	}

	delegator, err := c.registry.Device(delegatorID)
	if err != nil {
		return "", err
	}
	if !delegator.MayDelegate() {
		return "", interfaces.ErrEntityNotAllowed
	}

	if err := cryptoutils.AlgorithmEC.Verify(delegator.DelegationKey, delegationBytes, signature); err != nil {
		return "", err
	}

	var delegation interfaces.Delegation
	if err := json.Unmarshal(delegationBytes, &delegation); err != nil {
		return "", fmt.Errorf("%w: malformed delegation", interfaces.ErrSignatureInvalid)
	}
	if !bytes.Equal(delegation.FinishPayload, payloadBytes) {
		return "", interfaces.ErrEnvelopeMismatch
	}

	device, err := c.verifyPayload(payloadBytes, challengeID)
	if err != nil {
		return "", err
	}

	device.DelegatedBy = delegator.ID
	device.ExpiresAt = delegation.ExpiresAt
	if delegator.ExpiresAt < device.ExpiresAt {
		device.ExpiresAt = delegator.ExpiresAt
	}
	device.AllowedEntities = intersectEntities(delegation.AllowedEntities, delegator.AllowedEntities)

	if err := c.registry.AddDevice(ctx, *device); err != nil {
		return "", err
	}

	c.committed.PutIfAbsent(challengeID, device.ID)
	metrics.PairingsCommitted.Inc()
	c.log.Info("Delegated device enrolled",
		slog.String("device_id", string(device.ID)),
		slog.String("delegated_by", string(delegator.ID)))
	return device.ID, nil
}

// Status answers the transport layer's delegated-pairing poll.
func (c *Coordinator) Status(challengeID interfaces.ChallengeID) interfaces.PairStatus {
	if _, ok := c.committed.Get(challengeID); ok {
		return interfaces.StatusCommitted
	}
	if _, ok := c.challenges.Get(challengeID); ok {
		return interfaces.StatusPending
	}
	return interfaces.StatusExpired
}

// verifyPayload parses the finish payload, checks its challenge binding, and
// verifies both attestation chains. Returns the device precursor with all key
// material decoded; expiry and delegation fields are the caller's.
func (c *Coordinator) verifyPayload(payloadBytes []byte, challengeID interfaces.ChallengeID) (*interfaces.PairedDevice, error) {
	var payload interfaces.PairFinishPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed finish payload", interfaces.ErrAttestationInvalid)
	}
	if payload.ChallengeID != challengeID {
		return nil, fmt.Errorf("%w: payload bound to different challenge", interfaces.ErrAttestationInvalid)
	}

	primaryKey, err := interfaces.NewPublicKeyFromBase64(payload.PrimaryPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrAttestationInvalid, err)
	}
	delegationKey, err := interfaces.NewPublicKeyFromBase64(payload.DelegationPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrAttestationInvalid, err)
	}
	envelopeKey, err := base64.StdEncoding.DecodeString(payload.EnvelopeKey)
	if err != nil || len(envelopeKey) != cryptoutils.EnvelopeKeySize {
		return nil, fmt.Errorf("%w: bad envelope key", interfaces.ErrAttestationInvalid)
	}
	auditKey, err := base64.StdEncoding.DecodeString(payload.AuditPublicKey)
	if err != nil || len(auditKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: bad audit key", interfaces.ErrAttestationInvalid)
	}

	primaryChain, err := decodeChain(payload.PrimaryAttestationChain)
	if err != nil {
		return nil, err
	}
	delegationChain, err := decodeChain(payload.DelegationAttestationChain)
	if err != nil {
		return nil, err
	}

	primaryAttested, err := c.verifier.VerifyChain(primaryChain, challengeID, false)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(primaryAttested.PublicKey, primaryKey) {
		return nil, fmt.Errorf("%w: attested key does not match primary key", interfaces.ErrAttestationInvalid)
	}

	delegationAttested, err := c.verifier.VerifyChain(delegationChain, challengeID, true)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(delegationAttested.PublicKey, delegationKey) {
		return nil, fmt.Errorf("%w: attested key does not match delegation key", interfaces.ErrAttestationInvalid)
	}

	return &interfaces.PairedDevice{
		ID:            primaryKey.Fingerprint(),
		PrimaryKey:    primaryKey,
		DelegationKey: delegationKey,
		EnvelopeKey:   envelopeKey,
		AuditKey:      auditKey,
	}, nil
}

// fresh reports whether the timestamp is within the grace window of now.
func (c *Coordinator) fresh(millis int64) bool {
	delta := c.now() - millis
	if delta < 0 {
		delta = -delta
	}
	return delta <= c.cfg.GraceWindow.Milliseconds()
}

func decodeChain(chain []string) ([][]byte, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: empty attestation chain", interfaces.ErrAttestationInvalid)
	}
	decoded := make([][]byte, 0, len(chain))
	for _, cert := range chain {
		der, err := base64.StdEncoding.DecodeString(cert)
		if err != nil {
			return nil, fmt.Errorf("%w: bad certificate encoding", interfaces.ErrAttestationInvalid)
		}
		decoded = append(decoded, der)
	}
	return decoded, nil
}

// intersectEntities narrows the requested grant to what the delegator itself
// holds. Nil means unrestricted on either side.
func intersectEntities(requested, delegator []interfaces.EntityID) []interfaces.EntityID {
	if delegator == nil {
		return requested
	}
	if requested == nil {
		out := make([]interfaces.EntityID, len(delegator))
		copy(out, delegator)
		return out
	}
	allowed := make(map[interfaces.EntityID]bool, len(delegator))
	for _, e := range delegator {
		allowed[e] = true
	}
	out := make([]interfaces.EntityID, 0, len(requested))
	for _, e := range requested {
		if allowed[e] {
			out = append(out, e)
		}
	}
	return out
}
