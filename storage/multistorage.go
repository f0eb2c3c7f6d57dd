package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quicklock/lock-pairing-backend/interfaces"
)

// MultiStorageBackend implements interfaces.StorageBackend over multiple
// backends with fallback. Stores go to every available backend; fetches
// return the first hit.
type MultiStorageBackend struct {
	backends []interfaces.StorageBackend
	log      *slog.Logger
}

// NewMultiStorageBackend creates a new multi-storage backend with fallback.
func NewMultiStorageBackend(backends []interfaces.StorageBackend, logger *slog.Logger) *MultiStorageBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiStorageBackend{
		backends: backends,
		log:      logger,
	}
}

// Fetch returns the record from the first backend that has it.
func (m *MultiStorageBackend) Fetch(ctx context.Context, name string, kind interfaces.RecordKind) ([]byte, error) {
	start := time.Now()
	var errs []error
	notFound := 0

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable",
				slog.String("backend_name", backend.Name()))
			continue
		}

		data, err := backend.Fetch(ctx, name, kind)
		if err == nil {
			m.log.Debug("Fetched record",
				slog.String("backend_name", backend.Name()),
				slog.String("kind", kind.String()),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}
		if err == interfaces.ErrRecordNotFound {
			notFound++
			continue
		}

		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		m.log.Debug("Failed to fetch from backend",
			slog.String("backend_name", backend.Name()),
			"err", err)
	}

	if len(errs) == 0 {
		return nil, interfaces.ErrRecordNotFound
	}
	return nil, fmt.Errorf("all backends failed to fetch %s/%s: %v", kind, name, errs)
}

// Store writes the record to all available backends. It succeeds if at least
// one backend accepted the write.
func (m *MultiStorageBackend) Store(ctx context.Context, name string, data []byte, kind interfaces.RecordKind) error {
	start := time.Now()
	var success bool
	var errs []error

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", slog.String("backend_name", backend.Name()))
			continue
		}

		if err := backend.Store(ctx, name, data, kind); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Warn("Failed to store to backend",
				slog.String("backend_name", backend.Name()),
				"err", err)
			continue
		}
		success = true
	}

	if !success {
		return fmt.Errorf("all backends failed to store %s/%s: %v", kind, name, errs)
	}

	m.log.Debug("Stored record",
		slog.String("kind", kind.String()),
		slog.Int("backends_failed", len(errs)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Available reports whether at least one underlying backend is accessible.
func (m *MultiStorageBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns a unique identifier for this storage backend.
func (m *MultiStorageBackend) Name() string {
	names := make([]string, 0, len(m.backends))
	for _, backend := range m.backends {
		names = append(names, backend.Name())
	}
	return fmt.Sprintf("multi[%s]", strings.Join(names, ","))
}

// LocationURI returns the URIs of all aggregated backends.
func (m *MultiStorageBackend) LocationURI() string {
	uris := make([]string, 0, len(m.backends))
	for _, backend := range m.backends {
		uris = append(uris, backend.LocationURI())
	}
	return strings.Join(uris, ",")
}
