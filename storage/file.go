package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/quicklock/lock-pairing-backend/interfaces"
)

// FileBackend implements a storage backend using the local file system.
// Records are stored in a directory structure organized by record kind.
type FileBackend struct {
	baseDir     string
	prefixes    map[interfaces.RecordKind]string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a new file storage backend using the specified base
// directory. It creates subdirectories for the record kinds if they don't
// exist.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	prefixes := map[interfaces.RecordKind]string{
		interfaces.DeviceRecordsKind: "devices",
		interfaces.AuditLogKind:      "auditlog",
	}
	for _, prefix := range prefixes {
		if err := os.MkdirAll(filepath.Join(baseDir, prefix), 0700); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", prefix, err)
		}
	}

	return &FileBackend{
		baseDir:     baseDir,
		prefixes:    prefixes,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Fetch retrieves a record from the file system by name and kind.
// Returns ErrRecordNotFound if the file doesn't exist.
func (b *FileBackend) Fetch(ctx context.Context, name string, kind interfaces.RecordKind) ([]byte, error) {
	filePath := b.getFilePath(name, kind)

	data, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return nil, interfaces.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	b.log.Debug("Fetched record from file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))

	return data, nil
}

// Store writes a record to the file system, replacing any previous version.
// The write goes through a temp file and rename so a crash never leaves a
// half-written registry on disk.
func (b *FileBackend) Store(ctx context.Context, name string, data []byte, kind interfaces.RecordKind) error {
	filePath := b.getFilePath(name, kind)

	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace record file: %w", err)
	}

	b.log.Debug("Stored record in file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))

	return nil
}

// Available checks if the file backend is accessible by verifying the base
// directory exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this storage backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

// getFilePath generates a file path for a record name and kind.
func (b *FileBackend) getFilePath(name string, kind interfaces.RecordKind) string {
	return filepath.Join(b.baseDir, b.prefixes[kind], sanitizeName(name))
}
