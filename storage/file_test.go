package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/quicklock/lock-pairing-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackend_RoundTrip(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend, err := NewFileBackend(t.TempDir(), logger)
	require.NoError(t, err)

	ctx := context.Background()
	data := []byte(`{"devices":[]}`)

	require.NoError(t, backend.Store(ctx, "registry", data, interfaces.DeviceRecordsKind))

	fetched, err := backend.Fetch(ctx, "registry", interfaces.DeviceRecordsKind)
	require.NoError(t, err)
	assert.Equal(t, data, fetched)

	// Overwrite replaces the previous version.
	updated := []byte(`{"devices":[{"publicKey":"x"}]}`)
	require.NoError(t, backend.Store(ctx, "registry", updated, interfaces.DeviceRecordsKind))

	fetched, err = backend.Fetch(ctx, "registry", interfaces.DeviceRecordsKind)
	require.NoError(t, err)
	assert.Equal(t, updated, fetched)
}

func TestFileBackend_FetchMissing(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend, err := NewFileBackend(t.TempDir(), logger)
	require.NoError(t, err)

	_, err = backend.Fetch(context.Background(), "nope", interfaces.AuditLogKind)
	assert.ErrorIs(t, err, interfaces.ErrRecordNotFound)
}

func TestFileBackend_KindsAreSeparate(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend, err := NewFileBackend(t.TempDir(), logger)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, backend.Store(ctx, "shared-name", []byte("devices"), interfaces.DeviceRecordsKind))
	require.NoError(t, backend.Store(ctx, "shared-name", []byte("audit"), interfaces.AuditLogKind))

	devices, err := backend.Fetch(ctx, "shared-name", interfaces.DeviceRecordsKind)
	require.NoError(t, err)
	audit, err := backend.Fetch(ctx, "shared-name", interfaces.AuditLogKind)
	require.NoError(t, err)

	assert.Equal(t, []byte("devices"), devices)
	assert.Equal(t, []byte("audit"), audit)
}

func TestStorageBackendFactory_Schemes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := NewStorageBackendFactory(logger)

	t.Run("file", func(t *testing.T) {
		dir := t.TempDir()
		backend, err := factory.StorageBackendFor(interfaces.StorageBackendLocation("file://" + dir))
		require.NoError(t, err)
		assert.Contains(t, backend.LocationURI(), dir)
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		_, err := factory.StorageBackendFor("ftp://example.com/whatever")
		assert.Error(t, err)
	})

	t.Run("vault missing mount", func(t *testing.T) {
		_, err := factory.StorageBackendFor("vault://vault.example.com:8200")
		assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
	})
}

func TestStorageBackendFactory_MultiBackend(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := NewStorageBackendFactory(logger)

	// Invalid locations are skipped as long as one backend comes up.
	multi, err := factory.CreateMultiBackend([]interfaces.StorageBackendLocation{
		"ftp://bad.example.com/",
		interfaces.StorageBackendLocation("file://" + t.TempDir()),
	})
	require.NoError(t, err)
	assert.True(t, multi.Available(context.Background()))

	// All invalid is an error.
	_, err = factory.CreateMultiBackend([]interfaces.StorageBackendLocation{"ftp://bad.example.com/"})
	assert.Error(t, err)
}
