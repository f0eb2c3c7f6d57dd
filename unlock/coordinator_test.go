package unlock

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/quicklock/lock-pairing-backend/actuator"
	"github.com/quicklock/lock-pairing-backend/cryptoutils"
	"github.com/quicklock/lock-pairing-backend/interfaces"
	"github.com/quicklock/lock-pairing-backend/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type testDevice struct {
	device   interfaces.PairedDevice
	primary  *cryptoutils.ECSigner
	auditKey ed25519.PrivateKey
}

func newUnlockDevice(t *testing.T) testDevice {
	t.Helper()

	primary, err := cryptoutils.NewECSigner()
	require.NoError(t, err)
	envelopeKey := make([]byte, cryptoutils.EnvelopeKeySize)
	_, err = rand.Read(envelopeKey)
	require.NoError(t, err)
	auditPub, auditPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	return testDevice{
		device: interfaces.PairedDevice{
			ID:          primary.Public().Fingerprint(),
			PrimaryKey:  primary.Public(),
			EnvelopeKey: envelopeKey,
			AuditKey:    auditPub,
			ExpiresAt:   time.Now().Add(time.Hour).UnixMilli(),
		},
		primary:  primary,
		auditKey: auditPriv,
	}
}

// signedEnvelope builds a complete valid bundle for the challenge.
func signedEnvelope(t *testing.T, d testDevice, challenge interfaces.UnlockChallenge) interfaces.SignedRequestEnvelope {
	t.Helper()

	plaintext, err := json.Marshal(challenge)
	require.NoError(t, err)
	sealed, err := cryptoutils.SealEnvelope(plaintext, d.device.EnvelopeKey)
	require.NoError(t, err)

	clientSig, err := d.primary.Sign(sealed)
	require.NoError(t, err)

	stampBytes, err := json.Marshal(interfaces.AuditStamp{
		EnvelopeHash:     cryptoutils.Hash(sealed),
		ClientIdentifier: string(d.device.ID),
		Timestamp:        time.Now().UnixMilli(),
	})
	require.NoError(t, err)
	auditSig := ed25519.Sign(d.auditKey, stampBytes)

	return interfaces.SignedRequestEnvelope{
		DeviceID:        d.device.ID,
		SealedEnvelope:  sealed,
		ClientSignature: clientSig,
		AuditStamp:      stampBytes,
		AuditSignature:  auditSig,
	}
}

type fixture struct {
	coordinator *Coordinator
	registry    *registry.MockRegistry
	actuator    *actuator.MockActuator
	relocks     []func()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		registry: &registry.MockRegistry{},
		actuator: &actuator.MockActuator{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.coordinator = NewCoordinator(f.registry, f.actuator, []interfaces.EntityID{"front-door", "garage"}, DefaultConfig(), logger)

	// Capture re-lock timers instead of arming real ones.
	f.coordinator.afterFunc = func(d time.Duration, fn func()) *time.Timer {
		assert.Equal(t, DefaultConfig().RelockDelay, d)
		f.relocks = append(f.relocks, fn)
		return nil
	}
	return f
}

func TestUnlock(t *testing.T) {
	f := newFixture(t)
	d := newUnlockDevice(t)

	challenge, err := f.coordinator.Start("front-door")
	require.NoError(t, err)
	assert.Equal(t, interfaces.EntityID("front-door"), challenge.EntityID)

	f.registry.On("DeviceForEntity", d.device.ID, challenge.EntityID).Return(d.device, nil)
	f.actuator.On("Unlock", mock.Anything, challenge.EntityID).Return(nil).Once()
	f.actuator.On("Lock", mock.Anything, challenge.EntityID).Return(nil).Once()

	envelope := signedEnvelope(t, d, challenge)
	require.NoError(t, f.coordinator.Finish(context.Background(), challenge.ID, envelope))

	// The deferred re-lock fires independently of the request.
	require.Len(t, f.relocks, 1)
	f.relocks[0]()

	f.actuator.AssertExpectations(t)
}

func TestUnlock_Replay(t *testing.T) {
	f := newFixture(t)
	d := newUnlockDevice(t)

	challenge, err := f.coordinator.Start("front-door")
	require.NoError(t, err)

	f.registry.On("DeviceForEntity", d.device.ID, challenge.EntityID).Return(d.device, nil)
	f.actuator.On("Unlock", mock.Anything, challenge.EntityID).Return(nil).Once()

	envelope := signedEnvelope(t, d, challenge)
	require.NoError(t, f.coordinator.Finish(context.Background(), challenge.ID, envelope))

	// The identical request a second time finds no challenge.
	err = f.coordinator.Finish(context.Background(), challenge.ID, envelope)
	assert.ErrorIs(t, err, interfaces.ErrUnknownChallenge)

	f.actuator.AssertNumberOfCalls(t, "Unlock", 1)
}

func TestUnlock_CapabilityChecks(t *testing.T) {
	tests := []struct {
		name        string
		registryErr error
	}{
		{name: "entity not allowed", registryErr: interfaces.ErrEntityNotAllowed},
		{name: "device expired", registryErr: interfaces.ErrDeviceExpired},
		{name: "device not paired", registryErr: interfaces.ErrDeviceNotPaired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			d := newUnlockDevice(t)

			challenge, err := f.coordinator.Start("front-door")
			require.NoError(t, err)

			f.registry.On("DeviceForEntity", d.device.ID, challenge.EntityID).Return(interfaces.PairedDevice{}, tt.registryErr)

			envelope := signedEnvelope(t, d, challenge)
			err = f.coordinator.Finish(context.Background(), challenge.ID, envelope)
			assert.ErrorIs(t, err, tt.registryErr)

			// Rejections never actuate.
			f.actuator.AssertNotCalled(t, "Unlock", mock.Anything, mock.Anything)
		})
	}
}

func TestUnlock_EnvelopeBinding(t *testing.T) {
	f := newFixture(t)
	d := newUnlockDevice(t)

	challenge, err := f.coordinator.Start("front-door")
	require.NoError(t, err)
	other, err := f.coordinator.Start("garage")
	require.NoError(t, err)

	f.registry.On("DeviceForEntity", d.device.ID, mock.Anything).Return(d.device, nil)

	// Graft the audit stamp of one envelope onto another.
	envelope := signedEnvelope(t, d, challenge)
	donor := signedEnvelope(t, d, other)
	envelope.AuditStamp = donor.AuditStamp
	envelope.AuditSignature = donor.AuditSignature

	err = f.coordinator.Finish(context.Background(), challenge.ID, envelope)
	assert.ErrorIs(t, err, interfaces.ErrEnvelopeMismatch)
	f.actuator.AssertNotCalled(t, "Unlock", mock.Anything, mock.Anything)
}

func TestUnlock_SealedChallengeBinding(t *testing.T) {
	f := newFixture(t)
	d := newUnlockDevice(t)

	challenge, err := f.coordinator.Start("front-door")
	require.NoError(t, err)
	other, err := f.coordinator.Start("garage")
	require.NoError(t, err)

	f.registry.On("DeviceForEntity", d.device.ID, mock.Anything).Return(d.device, nil)

	// A fully consistent bundle, but sealing the wrong challenge.
	envelope := signedEnvelope(t, d, other)
	err = f.coordinator.Finish(context.Background(), challenge.ID, envelope)
	assert.ErrorIs(t, err, interfaces.ErrEnvelopeMismatch)
}

func TestUnlock_BadClientSignature(t *testing.T) {
	f := newFixture(t)
	d := newUnlockDevice(t)

	challenge, err := f.coordinator.Start("front-door")
	require.NoError(t, err)

	f.registry.On("DeviceForEntity", d.device.ID, challenge.EntityID).Return(d.device, nil)

	envelope := signedEnvelope(t, d, challenge)
	envelope.ClientSignature[0] ^= 0xff

	err = f.coordinator.Finish(context.Background(), challenge.ID, envelope)
	assert.ErrorIs(t, err, interfaces.ErrSignatureInvalid)
}

func TestUnlock_ActuationFailureIsRejection(t *testing.T) {
	f := newFixture(t)
	d := newUnlockDevice(t)

	challenge, err := f.coordinator.Start("front-door")
	require.NoError(t, err)

	f.registry.On("DeviceForEntity", d.device.ID, challenge.EntityID).Return(d.device, nil)
	f.actuator.On("Unlock", mock.Anything, challenge.EntityID).Return(errors.New("ha down"))

	envelope := signedEnvelope(t, d, challenge)
	err = f.coordinator.Finish(context.Background(), challenge.ID, envelope)
	assert.Error(t, err)
	assert.Empty(t, f.relocks)
}

func TestStart_UnknownEntity(t *testing.T) {
	f := newFixture(t)
	_, err := f.coordinator.Start("basement")
	assert.ErrorIs(t, err, interfaces.ErrEntityNotFound)
}

func TestUnlock_ExpiredChallenge(t *testing.T) {
	f := newFixture(t)
	d := newUnlockDevice(t)

	now := time.Now().UnixMilli()
	f.coordinator.WithClock(func() int64 { return now })

	challenge, err := f.coordinator.Start("front-door")
	require.NoError(t, err)

	// Move past the grace window but keep the cache entry alive by
	// advancing only the coordinator clock.
	now += DefaultConfig().GraceWindow.Milliseconds() + 1000

	envelope := signedEnvelope(t, d, challenge)
	err = f.coordinator.Finish(context.Background(), challenge.ID, envelope)
	assert.ErrorIs(t, err, interfaces.ErrExpiredChallenge)
}
