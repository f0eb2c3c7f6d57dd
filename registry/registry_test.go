package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/quicklock/lock-pairing-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryBackend is a minimal in-process storage backend for registry tests.
type memoryBackend struct {
	mu      sync.Mutex
	records map[string][]byte
	failPut bool
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{records: make(map[string][]byte)}
}

func (m *memoryBackend) Fetch(ctx context.Context, name string, kind interfaces.RecordKind) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.records[kind.String()+"/"+name]
	if !ok {
		return nil, interfaces.ErrRecordNotFound
	}
	return data, nil
}

func (m *memoryBackend) Store(ctx context.Context, name string, data []byte, kind interfaces.RecordKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return errors.New("backend write refused")
	}
	m.records[kind.String()+"/"+name] = data
	return nil
}

func (m *memoryBackend) Available(ctx context.Context) bool { return true }
func (m *memoryBackend) Name() string                       { return "memory" }
func (m *memoryBackend) LocationURI() string                { return "memory:" }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDevice(id string, expiresAt int64) interfaces.PairedDevice {
	return interfaces.PairedDevice{
		ID:         interfaces.DeviceID(id),
		PrimaryKey: interfaces.PublicKey("pk-" + id),
		ExpiresAt:  expiresAt,
	}
}

func TestPersistentRegistry_InitialDevice(t *testing.T) {
	ctx := context.Background()
	backend := newMemoryBackend()
	reg, err := NewPersistentRegistry(ctx, backend, testLogger())
	require.NoError(t, err)

	assert.False(t, reg.HasDevices())

	first := testDevice("device-a", time.Now().Add(time.Hour).UnixMilli())
	require.NoError(t, reg.AddInitialDevice(ctx, first))
	assert.True(t, reg.HasDevices())

	// A second initial enrollment must not commit.
	second := testDevice("device-b", time.Now().Add(time.Hour).UnixMilli())
	err = reg.AddInitialDevice(ctx, second)
	assert.ErrorIs(t, err, interfaces.ErrRegistryConflict)

	_, err = reg.Device(second.ID)
	assert.ErrorIs(t, err, interfaces.ErrDeviceNotPaired)
}

func TestPersistentRegistry_PersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	backend := newMemoryBackend()

	reg, err := NewPersistentRegistry(ctx, backend, testLogger())
	require.NoError(t, err)

	device := testDevice("device-a", time.Now().Add(time.Hour).UnixMilli())
	device.AllowedEntities = []interfaces.EntityID{"front-door"}
	require.NoError(t, reg.AddInitialDevice(ctx, device))

	// A fresh registry over the same backend sees the committed device.
	reloaded, err := NewPersistentRegistry(ctx, backend, testLogger())
	require.NoError(t, err)

	got, err := reloaded.Device(device.ID)
	require.NoError(t, err)
	assert.Equal(t, device, got)
}

func TestPersistentRegistry_RollbackOnPersistFailure(t *testing.T) {
	ctx := context.Background()
	backend := newMemoryBackend()
	reg, err := NewPersistentRegistry(ctx, backend, testLogger())
	require.NoError(t, err)

	backend.failPut = true
	device := testDevice("device-a", time.Now().Add(time.Hour).UnixMilli())
	assert.Error(t, reg.AddInitialDevice(ctx, device))

	// The device must not be visible after a failed persist.
	assert.False(t, reg.HasDevices())
	backend.failPut = false
	require.NoError(t, reg.AddInitialDevice(ctx, device))
}

func TestPersistentRegistry_AddDeviceIdempotent(t *testing.T) {
	ctx := context.Background()
	reg, err := NewPersistentRegistry(ctx, newMemoryBackend(), testLogger())
	require.NoError(t, err)

	initial := testDevice("device-a", time.Now().Add(time.Hour).UnixMilli())
	require.NoError(t, reg.AddInitialDevice(ctx, initial))

	delegated := testDevice("device-b", time.Now().Add(time.Hour).UnixMilli())
	delegated.DelegatedBy = initial.ID
	require.NoError(t, reg.AddDevice(ctx, delegated))

	// Retrying the same commit is a no-op and must not clobber the record.
	retry := delegated
	retry.AllowedEntities = []interfaces.EntityID{"garage"}
	require.NoError(t, reg.AddDevice(ctx, retry))

	got, err := reg.Device(delegated.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AllowedEntities)
}

func TestPersistentRegistry_Expiry(t *testing.T) {
	ctx := context.Background()
	reg, err := NewPersistentRegistry(ctx, newMemoryBackend(), testLogger())
	require.NoError(t, err)

	now := time.Now().UnixMilli()
	reg.WithClock(func() int64 { return now })

	device := testDevice("device-a", now+1000)
	require.NoError(t, reg.AddInitialDevice(ctx, device))

	_, err = reg.Device(device.ID)
	require.NoError(t, err)

	now += 2000
	_, err = reg.Device(device.ID)
	assert.ErrorIs(t, err, interfaces.ErrDeviceExpired)
}

func TestPersistentRegistry_DeviceForEntity(t *testing.T) {
	ctx := context.Background()
	reg, err := NewPersistentRegistry(ctx, newMemoryBackend(), testLogger())
	require.NoError(t, err)

	device := testDevice("device-a", time.Now().Add(time.Hour).UnixMilli())
	device.AllowedEntities = []interfaces.EntityID{"front-door"}
	require.NoError(t, reg.AddInitialDevice(ctx, device))

	_, err = reg.DeviceForEntity(device.ID, "front-door")
	assert.NoError(t, err)

	_, err = reg.DeviceForEntity(device.ID, "garage")
	assert.ErrorIs(t, err, interfaces.ErrEntityNotAllowed)

	_, err = reg.DeviceForEntity("unknown", "front-door")
	assert.ErrorIs(t, err, interfaces.ErrDeviceNotPaired)
}

func TestChallengeCache_SingleUse(t *testing.T) {
	cache := NewChallengeCache[interfaces.PairingChallenge](time.Minute)

	challenge := interfaces.PairingChallenge{ID: "c1", Kind: interfaces.KindInitial}
	assert.True(t, cache.PutIfAbsent(challenge.ID, challenge))
	assert.False(t, cache.PutIfAbsent(challenge.ID, challenge))

	got, ok := cache.Get(challenge.ID)
	require.True(t, ok)
	assert.Equal(t, challenge, got)

	// Take consumes exactly once.
	got, ok = cache.Take(challenge.ID)
	require.True(t, ok)
	assert.Equal(t, challenge, got)

	_, ok = cache.Take(challenge.ID)
	assert.False(t, ok)
	_, ok = cache.Get(challenge.ID)
	assert.False(t, ok)
}

func TestChallengeCache_ConcurrentTake(t *testing.T) {
	cache := NewChallengeCache[int](time.Minute)
	require.True(t, cache.PutIfAbsent("c1", 42))

	const callers = 32
	var wg sync.WaitGroup
	wins := make(chan int, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, ok := cache.Take("c1"); ok {
				wins <- v
			}
		}()
	}
	wg.Wait()
	close(wins)

	var count int
	for v := range wins {
		assert.Equal(t, 42, v)
		count++
	}
	assert.Equal(t, 1, count)
}

func TestChallengeCache_Expiry(t *testing.T) {
	now := time.Now()
	cache := NewChallengeCache[string](time.Minute).WithClock(func() time.Time { return now })

	require.True(t, cache.PutIfAbsent("c1", "v"))

	now = now.Add(2 * time.Minute)
	_, ok := cache.Get("c1")
	assert.False(t, ok)
	_, ok = cache.Take("c1")
	assert.False(t, ok)

	// The slot can be reused after expiry.
	assert.True(t, cache.PutIfAbsent("c1", "v2"))
}
