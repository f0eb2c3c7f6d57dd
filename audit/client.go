package audit

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quicklock/lock-pairing-backend/interfaces"
)

// Client talks to a remote audit co-signer.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an audit service client.
func NewClient(baseURL string, timeout ...time.Duration) *Client {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

// Register enrolls the client key and returns the client id and the
// co-signer's Ed25519 public key.
func (c *Client) Register(ctx context.Context, clientKey interfaces.PublicKey) (string, []byte, error) {
	var resp RegisterResponse
	err := c.post(ctx, "/api/register", RegisterRequest{ClientPublicKey: clientKey.String()}, &resp)
	if err != nil {
		return "", nil, err
	}

	serverPub, err := base64.StdEncoding.DecodeString(resp.ServerPublicKey)
	if err != nil {
		return "", nil, fmt.Errorf("malformed server public key: %w", err)
	}
	return resp.ClientID, serverPub, nil
}

// Sign requests a countersignature over the sealed envelope bytes.
func (c *Client) Sign(ctx context.Context, clientID string, envelope, clientSignature []byte) (stamp, auditSignature []byte, err error) {
	var resp SignResponse
	err = c.post(ctx, "/api/sign", SignRequest{
		ClientID:        clientID,
		Envelope:        envelope,
		ClientSignature: clientSignature,
	}, &resp)
	if err != nil {
		return nil, nil, err
	}
	return resp.Stamp, resp.AuditSignature, nil
}

// Logs fetches the client's co-signed event log.
func (c *Client) Logs(ctx context.Context, clientID string) ([]LogEvent, error) {
	url := fmt.Sprintf("%s/api/device/%s/logs", c.baseURL, clientID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("logs request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("logs request failed with code %d: %s", resp.StatusCode, string(body))
	}

	var events []LogEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("failed to parse logs response: %w", err)
	}
	return events, nil
}

func (c *Client) post(ctx context.Context, path string, reqBody, respBody any) error {
	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqJSON))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request to %s failed with code %d: %s", path, resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(respBody)
}
