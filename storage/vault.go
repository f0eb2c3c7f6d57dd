package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/quicklock/lock-pairing-backend/interfaces"
)

// VaultBackend implements a storage backend using HashiCorp Vault's KV v2
// engine. Device records are secrets in every meaningful sense, so a secrets
// store is a natural home for them.
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend creates a new Vault storage backend.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: Vault mount path (e.g. "secret")
//   - dataPath: Path within the mount (e.g. "lockd")
//   - token: Vault token; falls back to the VAULT_TOKEN environment variable
//   - log: Structured logger for operational insights
func NewVaultBackend(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.Timeout = 30 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.TrimSuffix(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
	}, nil
}

// Fetch retrieves a record from Vault by name and kind using the KV v2 API.
func (b *VaultBackend) Fetch(ctx context.Context, name string, kind interfaces.RecordKind) ([]byte, error) {
	start := time.Now()
	path := b.getSecretPath(name, kind)

	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		b.log.Error("Failed to read from Vault",
			slog.String("path", path),
			"err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	if secret == nil || secret.Data == nil {
		b.log.Debug("Record not found in Vault", slog.String("path", path))
		return nil, interfaces.ErrRecordNotFound
	}

	// KV v2 wraps the payload in a "data" map.
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid data format in Vault response")
	}
	content, ok := data["content"].(string)
	if !ok {
		return nil, fmt.Errorf("content key not found in Vault data")
	}

	raw, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("invalid content encoding in Vault data: %w", err)
	}

	b.log.Debug("Fetched record from Vault",
		slog.String("path", path),
		slog.Int("size", len(raw)),
		slog.Duration("duration", time.Since(start)))

	return raw, nil
}

// Store writes a record to Vault, replacing any previous version.
func (b *VaultBackend) Store(ctx context.Context, name string, data []byte, kind interfaces.RecordKind) error {
	path := b.getSecretPath(name, kind)

	_, err := b.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"data": map[string]interface{}{
			"content": base64.StdEncoding.EncodeToString(data),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write to Vault: %w", err)
	}

	b.log.Debug("Stored record in Vault",
		slog.String("path", path),
		slog.Int("size", len(data)))

	return nil
}

// Available checks if the Vault server is reachable and unsealed.
func (b *VaultBackend) Available(ctx context.Context) bool {
	health, err := b.client.Sys().HealthWithContext(ctx)
	if err != nil {
		b.log.Warn("Vault backend unavailable", "err", err)
		return false
	}
	return health.Initialized && !health.Sealed
}

// Name returns a unique identifier for this storage backend.
func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s", b.mountPath)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}

// getSecretPath generates a KV v2 path for a record name and kind.
func (b *VaultBackend) getSecretPath(name string, kind interfaces.RecordKind) string {
	return fmt.Sprintf("%s/data/%s/%s/%s", b.mountPath, b.dataPath, kind.String(), sanitizeName(name))
}
