package actuator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/quicklock/lock-pairing-backend/interfaces"
)

// Entity maps a lock entity to its Home Assistant configuration.
type Entity struct {
	// Name is the human readable label shown in clients.
	Name string `yaml:"name" json:"name"`

	// HAEntity is the Home Assistant entity id, e.g. "lock.front_door".
	HAEntity string `yaml:"haEntity" json:"haEntity"`
}

// HomeAssistantClient implements interfaces.Actuator against a Home Assistant
// instance's lock service.
type HomeAssistantClient struct {
	baseURL    string
	token      string
	entities   map[interfaces.EntityID]Entity
	httpClient *http.Client
	log        *slog.Logger
}

// NewHomeAssistantClient creates an actuation client.
//
// Parameters:
//   - baseURL: Home Assistant base URL (e.g., "http://homeassistant.local:8123")
//   - token: long-lived access token for the services API
//   - entities: lock entity id to Home Assistant entity mapping
func NewHomeAssistantClient(baseURL, token string, entities map[interfaces.EntityID]Entity, logger *slog.Logger) *HomeAssistantClient {
	return &HomeAssistantClient{
		baseURL:  baseURL,
		token:    token,
		entities: entities,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: logger,
	}
}

// Unlock opens the entity's lock.
func (c *HomeAssistantClient) Unlock(ctx context.Context, entity interfaces.EntityID) error {
	return c.postLock(ctx, "unlock", entity)
}

// Lock closes the entity's lock again.
func (c *HomeAssistantClient) Lock(ctx context.Context, entity interfaces.EntityID) error {
	return c.postLock(ctx, "lock", entity)
}

func (c *HomeAssistantClient) postLock(ctx context.Context, service string, entity interfaces.EntityID) error {
	target, ok := c.entities[entity]
	if !ok {
		return interfaces.ErrEntityNotFound
	}

	reqBody, err := json.Marshal(map[string]string{
		"entity_id": target.HAEntity,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal service call: %w", err)
	}

	url := fmt.Sprintf("%s/api/services/lock/%s", c.baseURL, service)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("lock service call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("lock service returned %d: %s", resp.StatusCode, string(body))
	}

	c.log.Info("Actuated lock",
		slog.String("service", service),
		slog.String("entity", string(entity)),
		slog.String("ha_entity", target.HAEntity))
	return nil
}
