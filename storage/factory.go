package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/quicklock/lock-pairing-backend/interfaces"
)

// StorageBackendFactory creates storage backends from URI strings and manages
// multi-backend configurations for redundant storage.
type StorageBackendFactory struct {
	log *slog.Logger
}

// NewStorageBackendFactory creates a new factory instance that can create
// storage backends.
func NewStorageBackendFactory(logger *slog.Logger) *StorageBackendFactory {
	return &StorageBackendFactory{log: logger}
}

// StorageBackendFor creates a storage backend from a location URI.
// The URI format should be [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - file:// - Local filesystem storage
//   - s3:// - Amazon S3 or compatible object storage
//   - ipfs:// - IPFS node (mutable files API)
//   - vault:// - HashiCorp Vault KV v2
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (sf *StorageBackendFactory) StorageBackendFor(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	u, err := url.Parse(string(location))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return sf.createFileBackend(u)
	case "s3":
		return sf.createS3Backend(u)
	case "ipfs":
		return sf.createIPFSBackend(u)
	case "vault":
		return sf.createVaultBackend(u)
	default:
		return nil, fmt.Errorf("unsupported backend scheme: %s", u.Scheme)
	}
}

// CreateMultiBackend creates a multi-storage backend from a list of location
// URIs. Returns an error if no valid backends could be created.
func (sf *StorageBackendFactory) CreateMultiBackend(locations []interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	backends := make([]interfaces.StorageBackend, 0, len(locations))

	for _, uri := range locations {
		backend, err := sf.StorageBackendFor(uri)
		if err != nil {
			sf.log.Warn("Failed to create storage backend",
				"err", err,
				slog.String("locationURI", string(uri)))
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid storage backends created")
	}

	return NewMultiStorageBackend(backends, sf.log), nil
}

// createFileBackend creates a file storage backend.
// URI format: file:///var/lib/lockd/
func (sf *StorageBackendFactory) createFileBackend(u *url.URL) (interfaces.StorageBackend, error) {
	path := u.Path
	if u.Host != "" {
		// Relative paths come through as host + path.
		path = u.Host + u.Path
	}
	if path == "" {
		return nil, fmt.Errorf("%w: file URI has empty path", interfaces.ErrInvalidLocationURI)
	}
	return NewFileBackend(path, sf.log)
}

// createS3Backend creates an S3 storage backend.
// URI format: s3://bucket-name/prefix/?region=us-west-2&endpoint=...
// Credentials are taken from access_key/secret_key query parameters or the
// usual AWS environment.
func (sf *StorageBackendFactory) createS3Backend(u *url.URL) (interfaces.StorageBackend, error) {
	bucket := u.Host
	if bucket == "" {
		return nil, fmt.Errorf("%w: s3 URI has empty bucket", interfaces.ErrInvalidLocationURI)
	}

	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Backend(
		bucket,
		strings.TrimPrefix(u.Path, "/"),
		region,
		query.Get("endpoint"),
		query.Get("access_key"),
		query.Get("secret_key"),
		sf.log,
	)
}

// createIPFSBackend creates an IPFS storage backend.
// URI format: ipfs://ipfs.example.com:5001/lockd
func (sf *StorageBackendFactory) createIPFSBackend(u *url.URL) (interfaces.StorageBackend, error) {
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: ipfs URI has empty host", interfaces.ErrInvalidLocationURI)
	}
	port := u.Port()
	if port == "" {
		port = "5001"
	}
	basePath := u.Path
	if basePath == "" || basePath == "/" {
		basePath = "/lockd"
	}
	return NewIPFSBackend(host, port, basePath, sf.log)
}

// createVaultBackend creates a Vault storage backend.
// URI format: vault://vault.example.com:8200/secret/lockd?token=...
// The first path element is the mount, the remainder the data path.
func (sf *StorageBackendFactory) createVaultBackend(u *url.URL) (interfaces.StorageBackend, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("%w: vault URI has empty host", interfaces.ErrInvalidLocationURI)
	}

	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return nil, fmt.Errorf("%w: vault URI missing mount path", interfaces.ErrInvalidLocationURI)
	}
	mountPath := parts[0]
	dataPath := "lockd"
	if len(parts) == 2 && parts[1] != "" {
		dataPath = parts[1]
	}

	scheme := "https"
	if u.Query().Get("insecure") == "true" {
		scheme = "http"
	}

	return NewVaultBackend(
		fmt.Sprintf("%s://%s", scheme, u.Host),
		mountPath,
		dataPath,
		u.Query().Get("token"),
		sf.log,
	)
}
