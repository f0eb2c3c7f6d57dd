package unlock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quicklock/lock-pairing-backend/cryptoutils"
	"github.com/quicklock/lock-pairing-backend/interfaces"
	"github.com/quicklock/lock-pairing-backend/metrics"
	"github.com/quicklock/lock-pairing-backend/registry"
)

// Config holds unlock coordinator tuning knobs.
type Config struct {
	// GraceWindow bounds challenge freshness and clock skew tolerance.
	GraceWindow time.Duration

	// RelockDelay is how long an unlock stays open before the automatic
	// re-lock fires.
	RelockDelay time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		GraceWindow: 5 * time.Minute,
		RelockDelay: 3 * time.Second,
	}
}

// Coordinator drives the unlock challenge/response protocol and orchestrates
// actuation plus the deferred re-lock.
type Coordinator struct {
	registry interfaces.DeviceRegistry
	actuator interfaces.Actuator
	entities map[interfaces.EntityID]bool
	log      *slog.Logger
	cfg      Config

	challenges interfaces.ChallengeStore[interfaces.UnlockChallenge]

	now func() int64

	// afterFunc schedules the detached re-lock timer.
	afterFunc func(time.Duration, func()) *time.Timer
}

// NewCoordinator creates an unlock coordinator over the configured entities.
func NewCoordinator(deviceRegistry interfaces.DeviceRegistry, act interfaces.Actuator, entities []interfaces.EntityID, cfg Config, logger *slog.Logger) *Coordinator {
	known := make(map[interfaces.EntityID]bool, len(entities))
	for _, e := range entities {
		known[e] = true
	}
	return &Coordinator{
		registry:   deviceRegistry,
		actuator:   act,
		entities:   known,
		log:        logger,
		cfg:        cfg,
		challenges: registry.NewChallengeCache[interfaces.UnlockChallenge](cfg.GraceWindow),
		now:        func() int64 { return time.Now().UnixMilli() },
		afterFunc:  time.AfterFunc,
	}
}

// WithClock overrides the time source used for freshness checks.
func (c *Coordinator) WithClock(now func() int64) *Coordinator {
	c.now = now
	return c
}

// Start issues a single-use unlock challenge bound to the entity.
func (c *Coordinator) Start(entity interfaces.EntityID) (interfaces.UnlockChallenge, error) {
	if !c.entities[entity] {
		return interfaces.UnlockChallenge{}, interfaces.ErrEntityNotFound
	}

	id, err := cryptoutils.NewChallengeID()
	if err != nil {
		return interfaces.UnlockChallenge{}, fmt.Errorf("failed to generate challenge: %w", err)
	}

	challenge := interfaces.UnlockChallenge{
		ID:        id,
		Timestamp: c.now(),
		EntityID:  entity,
	}
	if !c.challenges.PutIfAbsent(id, challenge) {
		return interfaces.UnlockChallenge{}, interfaces.ErrDuplicateSubmission
	}

	c.log.Debug("Issued unlock challenge",
		slog.String("challenge_id", string(id)),
		slog.String("entity", string(entity)))
	return challenge, nil
}

// Finish verifies the signed envelope bundle and, on success, actuates the
// unlock and schedules the automatic re-lock. The challenge is consumed
// before any verification runs, so the outcome is final either way.
func (c *Coordinator) Finish(ctx context.Context, challengeID interfaces.ChallengeID, envelope interfaces.SignedRequestEnvelope) error {
	if err := c.finish(ctx, challengeID, envelope); err != nil {
		metrics.UnlocksRejected.Inc()
		return err
	}
	metrics.UnlocksAuthorized.Inc()
	return nil
}

func (c *Coordinator) finish(ctx context.Context, challengeID interfaces.ChallengeID, envelope interfaces.SignedRequestEnvelope) error {
	challenge, ok := c.challenges.Take(challengeID)
	if !ok {
		return interfaces.ErrUnknownChallenge
	}
	if !c.fresh(challenge.Timestamp) {
		return interfaces.ErrExpiredChallenge
	}

	device, err := c.registry.DeviceForEntity(envelope.DeviceID, challenge.EntityID)
	if err != nil {
		return err
	}

	if err := cryptoutils.VerifyClientSignature(&device, envelope.SealedEnvelope, envelope.ClientSignature); err != nil {
		return err
	}

	stamp, err := cryptoutils.VerifyAuditStamp(&device, envelope.AuditStamp, envelope.AuditSignature, envelope.SealedEnvelope)
	if err != nil {
		return err
	}

	// The sealed payload must be the exact challenge this finish redeems.
	plaintext, err := cryptoutils.OpenEnvelope(envelope.SealedEnvelope, device.EnvelopeKey)
	if err != nil {
		return err
	}
	var sealed interfaces.UnlockChallenge
	if err := json.Unmarshal(plaintext, &sealed); err != nil {
		return fmt.Errorf("%w: malformed sealed payload", interfaces.ErrEnvelopeMismatch)
	}
	if sealed.ID != challenge.ID || sealed.EntityID != challenge.EntityID {
		return fmt.Errorf("%w: sealed challenge mismatch", interfaces.ErrEnvelopeMismatch)
	}

	if err := c.actuator.Unlock(ctx, challenge.EntityID); err != nil {
		return fmt.Errorf("actuation failed: %w", err)
	}

	c.log.Info("Unlock authorized",
		slog.String("entity", string(challenge.EntityID)),
		slog.String("device_id", string(device.ID)),
		slog.Int64("audit_timestamp", stamp.Timestamp))

	c.scheduleRelock(challenge.EntityID)
	return nil
}

// scheduleRelock arms the detached re-lock timer. It runs off the request's
// context so it fires even if the caller disconnects.
func (c *Coordinator) scheduleRelock(entity interfaces.EntityID) {
	c.afterFunc(c.cfg.RelockDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.actuator.Lock(ctx, entity); err != nil {
			c.log.Error("Automatic re-lock failed",
				slog.String("entity", string(entity)),
				"err", err)
			return
		}
		c.log.Info("Automatic re-lock", slog.String("entity", string(entity)))
	})
}

// fresh reports whether the timestamp is within the grace window of now.
func (c *Coordinator) fresh(millis int64) bool {
	delta := c.now() - millis
	if delta < 0 {
		delta = -delta
	}
	return delta <= c.cfg.GraceWindow.Milliseconds()
}
