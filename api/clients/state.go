package clients

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/quicklock/lock-pairing-backend/audit"
	"github.com/quicklock/lock-pairing-backend/cryptoutils"
)

// deviceState is the persisted device identity. A hardware keystore would
// hold the private keys instead; the CLI keeps them in a file.
type deviceState struct {
	PrimaryKey     []byte `json:"primaryKey"`
	DelegationKey  []byte `json:"delegationKey"`
	EnvelopeKey    []byte `json:"envelopeKey"`
	AuditClientID  string `json:"auditClientId,omitempty"`
	AuditServerPub []byte `json:"auditServerPub,omitempty"`
}

// SaveState writes the device identity to path, private keys included.
func (c *DeviceClient) SaveState(path string) error {
	primaryDER, err := c.primary.MarshalPrivate()
	if err != nil {
		return err
	}
	delegationDER, err := c.delegation.MarshalPrivate()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(deviceState{
		PrimaryKey:     primaryDER,
		DelegationKey:  delegationDER,
		EnvelopeKey:    c.envelopeKey,
		AuditClientID:  c.auditClientID,
		AuditServerPub: c.auditServerPub,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadDeviceClient restores a device identity saved with SaveState.
func LoadDeviceClient(path, lockURL string, attestor cryptoutils.AttestationProvider, auditClient *audit.Client) (*DeviceClient, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read device state: %w", err)
	}

	var state deviceState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse device state: %w", err)
	}

	primary, err := cryptoutils.NewECSignerFromDER(state.PrimaryKey)
	if err != nil {
		return nil, fmt.Errorf("invalid primary key in device state: %w", err)
	}
	delegation, err := cryptoutils.NewECSignerFromDER(state.DelegationKey)
	if err != nil {
		return nil, fmt.Errorf("invalid delegation key in device state: %w", err)
	}
	if len(state.EnvelopeKey) != cryptoutils.EnvelopeKeySize {
		return nil, fmt.Errorf("invalid envelope key in device state")
	}

	return &DeviceClient{
		lockURL:        lockURL,
		httpClient:     defaultHTTPClient(),
		primary:        primary,
		delegation:     delegation,
		attestor:       attestor,
		envelopeKey:    state.EnvelopeKey,
		auditClient:    auditClient,
		auditClientID:  state.AuditClientID,
		auditServerPub: state.AuditServerPub,
	}, nil
}
