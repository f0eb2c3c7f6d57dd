package interfaces

import "context"

// RecordKind indicates the storage namespace a record belongs to.
type RecordKind int

const (
	// DeviceRecordsKind for the persisted device registry.
	DeviceRecordsKind RecordKind = iota
	// AuditLogKind for audit co-signer event logs.
	AuditLogKind
)

// String returns the kind name.
func (k RecordKind) String() string {
	switch k {
	case DeviceRecordsKind:
		return "devices"
	case AuditLogKind:
		return "auditlog"
	default:
		return "unknown"
	}
}

// StorageBackendLocation is a URI identifying a storage backend, for example
// file:///var/lib/lockd/ or s3://bucket/prefix/?region=us-west-2.
type StorageBackendLocation string

// StorageBackend stores named records. Unlike content-addressed stores, the
// registry rewrites the same record name on every mutation, so Store is an
// overwriting put keyed by (name, kind).
type StorageBackend interface {
	// Fetch retrieves a record by name and kind. Returns ErrRecordNotFound
	// if it does not exist.
	Fetch(ctx context.Context, name string, kind RecordKind) ([]byte, error)

	// Store writes a record, replacing any previous version.
	Store(ctx context.Context, name string, data []byte, kind RecordKind) error

	// Available checks whether the backend is currently accessible.
	Available(ctx context.Context) bool

	// Name returns a unique identifier for this storage backend.
	Name() string

	// LocationURI returns the URI this backend was created from.
	LocationURI() string
}

// StorageBackendFactory creates storage backends from URI strings.
type StorageBackendFactory interface {
	// StorageBackendFor creates a single backend from a location URI.
	StorageBackendFor(location StorageBackendLocation) (StorageBackend, error)

	// CreateMultiBackend aggregates several backends for redundancy:
	// stores go to all available backends, fetches return the first hit.
	CreateMultiBackend(locations []StorageBackendLocation) (StorageBackend, error)
}
