package audit

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quicklock/lock-pairing-backend/cryptoutils"
	"github.com/quicklock/lock-pairing-backend/interfaces"
	"github.com/quicklock/lock-pairing-backend/metrics"
)

// LogEvent is one co-signed action in a client's append-only event log.
type LogEvent struct {
	ID           string `json:"id"`
	EnvelopeHash []byte `json:"envelopeHash"`
	Timestamp    int64  `json:"timestamp"` // unix milliseconds
}

// clientRecord is the persisted per-client state: the registered client key,
// the server's co-signing key, and the event log.
type clientRecord struct {
	ClientKey interfaces.PublicKey `json:"clientKey"`

	// ServerKey is the Ed25519 private key (seed plus public half).
	ServerKey ed25519.PrivateKey `json:"serverKey"`

	Events []LogEvent `json:"events"`
}

// Cosigner is the audit co-signing service core. Client state persists
// through a storage backend so co-signing keys survive restarts; stamps
// signed before a restart stay verifiable.
type Cosigner struct {
	storage interfaces.StorageBackend
	log     *slog.Logger

	mu      sync.Mutex
	clients map[interfaces.DeviceID]*clientRecord

	now func() int64
}

// NewCosigner creates the co-signer service core.
func NewCosigner(storage interfaces.StorageBackend, logger *slog.Logger) *Cosigner {
	return &Cosigner{
		storage: storage,
		log:     logger,
		clients: make(map[interfaces.DeviceID]*clientRecord),
		now:     func() int64 { return time.Now().UnixMilli() },
	}
}

// WithClock overrides the time source used for stamps.
func (c *Cosigner) WithClock(now func() int64) *Cosigner {
	c.now = now
	return c
}

// Register enrolls a client key and returns the client identifier plus the
// public half of the per-client co-signing key. Registering the same key
// again returns the existing co-signing key, so registration is retryable.
func (c *Cosigner) Register(ctx context.Context, clientKey interfaces.PublicKey) (interfaces.DeviceID, ed25519.PublicKey, error) {
	clientID := clientKey.Fingerprint()

	c.mu.Lock()
	defer c.mu.Unlock()

	record, err := c.loadLocked(ctx, clientID)
	if err != nil {
		return "", nil, err
	}
	if record != nil {
		if !cryptoutils.ConstantTimeEq(record.ClientKey, clientKey) {
			return "", nil, interfaces.ErrSignatureInvalid
		}
		return clientID, record.ServerKey.Public().(ed25519.PublicKey), nil
	}

	_, serverKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate co-signing key: %w", err)
	}

	record = &clientRecord{ClientKey: clientKey, ServerKey: serverKey}
	if err := c.persistLocked(ctx, clientID, record); err != nil {
		return "", nil, err
	}
	c.clients[clientID] = record

	c.log.Info("Registered audit client", slog.String("client_id", string(clientID)))
	return clientID, serverKey.Public().(ed25519.PublicKey), nil
}

// Sign countersigns a sealed envelope. The client proves custody of its
// registered key by signing the envelope bytes; the event is logged before
// the stamp signature is produced.
func (c *Cosigner) Sign(ctx context.Context, clientID interfaces.DeviceID, envelope, clientSignature []byte) (stampBytes, auditSignature []byte, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, err := c.loadLocked(ctx, clientID)
	if err != nil {
		return nil, nil, err
	}
	if record == nil {
		return nil, nil, interfaces.ErrDeviceNotPaired
	}

	if err := cryptoutils.AlgorithmEC.Verify(record.ClientKey, envelope, clientSignature); err != nil {
		return nil, nil, err
	}

	stamp := interfaces.AuditStamp{
		EnvelopeHash:     cryptoutils.Hash(envelope),
		ClientIdentifier: string(clientID),
		Timestamp:        c.now(),
	}
	stampBytes, err = json.Marshal(stamp)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to serialize stamp: %w", err)
	}

	event := LogEvent{
		ID:           uuid.New().String(),
		EnvelopeHash: stamp.EnvelopeHash,
		Timestamp:    stamp.Timestamp,
	}
	record.Events = append(record.Events, event)
	if err := c.persistLocked(ctx, clientID, record); err != nil {
		record.Events = record.Events[:len(record.Events)-1]
		return nil, nil, err
	}

	auditSignature = ed25519.Sign(record.ServerKey, stampBytes)
	metrics.AuditStampsIssued.Inc()

	c.log.Info("Issued audit stamp",
		slog.String("client_id", string(clientID)),
		slog.String("event_id", event.ID))
	return stampBytes, auditSignature, nil
}

// Logs returns the client's event log.
func (c *Cosigner) Logs(ctx context.Context, clientID interfaces.DeviceID) ([]LogEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, err := c.loadLocked(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, interfaces.ErrDeviceNotPaired
	}
	events := make([]LogEvent, len(record.Events))
	copy(events, record.Events)
	return events, nil
}

// loadLocked returns the cached client record, faulting it in from storage.
// Returns nil without error for unknown clients. Caller holds the lock.
func (c *Cosigner) loadLocked(ctx context.Context, clientID interfaces.DeviceID) (*clientRecord, error) {
	if record, ok := c.clients[clientID]; ok {
		return record, nil
	}

	data, err := c.storage.Fetch(ctx, string(clientID), interfaces.AuditLogKind)
	if err == interfaces.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load audit client state: %w", err)
	}

	var record clientRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse audit client state: %w", err)
	}
	c.clients[clientID] = &record
	return &record, nil
}

// persistLocked writes the client record to storage. Caller holds the lock.
func (c *Cosigner) persistLocked(ctx context.Context, clientID interfaces.DeviceID, record *clientRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to serialize audit client state: %w", err)
	}
	return c.storage.Store(ctx, string(clientID), data, interfaces.AuditLogKind)
}
