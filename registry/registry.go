package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quicklock/lock-pairing-backend/interfaces"
)

// RegistryRecordName is the storage record name the device list persists
// under. All lock server instances sharing a backend share one registry.
const RegistryRecordName = "registry"

// registryRecord is the persisted JSON form of the device registry.
type registryRecord struct {
	Devices []interfaces.PairedDevice `json:"devices"`
}

// PersistentRegistry implements interfaces.DeviceRegistry backed by a storage
// backend. All devices are held in memory; mutations persist the full device
// list before they are acknowledged, so an acknowledged pairing survives a
// restart.
type PersistentRegistry struct {
	storage interfaces.StorageBackend
	log     *slog.Logger

	mu      sync.RWMutex
	devices map[interfaces.DeviceID]interfaces.PairedDevice

	now func() int64
}

// NewPersistentRegistry creates a device registry, loading any previously
// persisted device list from the storage backend.
func NewPersistentRegistry(ctx context.Context, storage interfaces.StorageBackend, logger *slog.Logger) (*PersistentRegistry, error) {
	r := &PersistentRegistry{
		storage: storage,
		log:     logger,
		devices: make(map[interfaces.DeviceID]interfaces.PairedDevice),
		now:     func() int64 { return time.Now().UnixMilli() },
	}

	data, err := storage.Fetch(ctx, RegistryRecordName, interfaces.DeviceRecordsKind)
	if err == interfaces.ErrRecordNotFound {
		logger.Info("No persisted device registry found, starting empty")
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load device registry: %w", err)
	}

	var record registryRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse device registry record: %w", err)
	}
	for _, device := range record.Devices {
		r.devices[device.ID] = device
	}

	logger.Info("Loaded device registry", slog.Int("devices", len(r.devices)))
	return r, nil
}

// WithClock overrides the time source used for expiry checks.
func (r *PersistentRegistry) WithClock(now func() int64) *PersistentRegistry {
	r.now = now
	return r
}

// AddInitialDevice commits the first paired device. Emptiness is re-checked
// under the write lock so two racing initial pairings cannot both commit.
func (r *PersistentRegistry) AddInitialDevice(ctx context.Context, device interfaces.PairedDevice) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.devices) != 0 {
		return interfaces.ErrRegistryConflict
	}

	r.devices[device.ID] = device
	if err := r.persistLocked(ctx); err != nil {
		delete(r.devices, device.ID)
		return fmt.Errorf("failed to persist initial device: %w", err)
	}

	r.log.Info("Committed initial device",
		slog.String("device_id", string(device.ID)),
		slog.Int64("expires_at", device.ExpiresAt))
	return nil
}

// AddDevice commits a delegated device. Re-adding an existing fingerprint is
// a no-op so finish calls are safe to retry.
func (r *PersistentRegistry) AddDevice(ctx context.Context, device interfaces.PairedDevice) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[device.ID]; exists {
		return nil
	}

	r.devices[device.ID] = device
	if err := r.persistLocked(ctx); err != nil {
		delete(r.devices, device.ID)
		return fmt.Errorf("failed to persist device: %w", err)
	}

	r.log.Info("Committed delegated device",
		slog.String("device_id", string(device.ID)),
		slog.String("delegated_by", string(device.DelegatedBy)),
		slog.Int64("expires_at", device.ExpiresAt))
	return nil
}

// Device returns the paired device for the fingerprint.
func (r *PersistentRegistry) Device(id interfaces.DeviceID) (interfaces.PairedDevice, error) {
	r.mu.RLock()
	device, ok := r.devices[id]
	r.mu.RUnlock()

	if !ok {
		return interfaces.PairedDevice{}, interfaces.ErrDeviceNotPaired
	}
	if device.Expired(r.now()) {
		return interfaces.PairedDevice{}, interfaces.ErrDeviceExpired
	}
	return device, nil
}

// DeviceForEntity resolves the device and checks its grant covers the entity.
func (r *PersistentRegistry) DeviceForEntity(id interfaces.DeviceID, entity interfaces.EntityID) (interfaces.PairedDevice, error) {
	device, err := r.Device(id)
	if err != nil {
		return interfaces.PairedDevice{}, err
	}
	if !device.MayAccess(entity) {
		return interfaces.PairedDevice{}, interfaces.ErrEntityNotAllowed
	}
	return device, nil
}

// HasDevices reports whether any device is enrolled.
func (r *PersistentRegistry) HasDevices() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices) != 0
}

// persistLocked writes the full device list to storage. Caller holds the
// write lock.
func (r *PersistentRegistry) persistLocked(ctx context.Context) error {
	record := registryRecord{Devices: make([]interfaces.PairedDevice, 0, len(r.devices))}
	for _, device := range r.devices {
		record.Devices = append(record.Devices, device)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to serialize device registry: %w", err)
	}
	return r.storage.Store(ctx, RegistryRecordName, data, interfaces.DeviceRecordsKind)
}
