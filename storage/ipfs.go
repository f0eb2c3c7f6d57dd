package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/quicklock/lock-pairing-backend/interfaces"
)

// IPFSBackend implements a storage backend on an IPFS node. Records are kept
// in the node's mutable file system so the same name can be rewritten, unlike
// plain content addressing.
type IPFSBackend struct {
	shell       *shell.Shell
	host        string
	port        string
	basePath    string
	log         *slog.Logger
	locationURI string
}

// NewIPFSBackend creates a new IPFS storage backend connected to the
// specified node API host and port.
func NewIPFSBackend(host, port, basePath string, log *slog.Logger) (*IPFSBackend, error) {
	apiURL := fmt.Sprintf("%s:%s", host, port)

	basePath = "/" + strings.Trim(basePath, "/")
	uri := fmt.Sprintf("ipfs://%s%s", apiURL, basePath)

	return &IPFSBackend{
		shell:       shell.NewShell(apiURL),
		host:        host,
		port:        port,
		basePath:    basePath,
		log:         log,
		locationURI: uri,
	}, nil
}

// Fetch retrieves a record from the IPFS files API by name and kind.
// Returns ErrRecordNotFound if the file doesn't exist or
// ErrBackendUnavailable if the node is not accessible.
func (b *IPFSBackend) Fetch(ctx context.Context, name string, kind interfaces.RecordKind) ([]byte, error) {
	start := time.Now()
	filesPath := b.getFilesPath(name, kind)

	if !b.shell.IsUp() {
		b.log.Warn("IPFS node unavailable",
			slog.String("host", b.host),
			slog.String("port", b.port))
		return nil, interfaces.ErrBackendUnavailable
	}

	reader, err := b.shell.FilesRead(ctx, filesPath)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") || strings.Contains(err.Error(), "no link named") {
			b.log.Debug("Record not found in IPFS",
				slog.String("path", filesPath),
				slog.Duration("duration", time.Since(start)))
			return nil, interfaces.ErrRecordNotFound
		}

		b.log.Error("Failed to fetch record from IPFS",
			slog.String("path", filesPath),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("failed to fetch record from IPFS: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read record from IPFS: %w", err)
	}

	b.log.Debug("Fetched record from IPFS",
		slog.String("path", filesPath),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Store writes a record to the IPFS files API, replacing any previous
// version. Returns ErrBackendUnavailable if the node is not accessible.
func (b *IPFSBackend) Store(ctx context.Context, name string, data []byte, kind interfaces.RecordKind) error {
	filesPath := b.getFilesPath(name, kind)

	if !b.shell.IsUp() {
		b.log.Warn("IPFS node unavailable",
			slog.String("host", b.host),
			slog.String("port", b.port))
		return interfaces.ErrBackendUnavailable
	}

	err := b.shell.FilesWrite(ctx, filesPath, bytes.NewReader(data),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		return fmt.Errorf("failed to write record to IPFS: %w", err)
	}

	b.log.Debug("Stored record in IPFS",
		slog.String("path", filesPath),
		slog.Int("size", len(data)))

	return nil
}

// Available checks if the IPFS node is reachable.
func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

// Name returns a unique identifier for this storage backend.
func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", b.host, b.port)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}

// getFilesPath generates a files-API path for a record name and kind.
func (b *IPFSBackend) getFilesPath(name string, kind interfaces.RecordKind) string {
	return path.Join(b.basePath, kind.String(), sanitizeName(name))
}
