package clients

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/quicklock/lock-pairing-backend/api"
	"github.com/quicklock/lock-pairing-backend/audit"
	"github.com/quicklock/lock-pairing-backend/cryptoutils"
	"github.com/quicklock/lock-pairing-backend/interfaces"
)

// envelopeKeyInfo is the HKDF info string binding the derived key to its use.
const envelopeKeyInfo = "lockd envelope key v1"

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// DeviceClient drives the pairing and unlock protocols from the device side.
type DeviceClient struct {
	lockURL    string
	httpClient *http.Client

	primary    *cryptoutils.ECSigner
	delegation *cryptoutils.ECSigner
	attestor   cryptoutils.AttestationProvider

	envelopeKey []byte

	auditClient    *audit.Client
	auditClientID  string
	auditServerPub []byte
}

// NewDeviceClient generates a fresh device identity. The envelope key is
// derived from a random device seed so the same seed always yields the same
// key.
func NewDeviceClient(lockURL string, attestor cryptoutils.AttestationProvider, auditClient *audit.Client) (*DeviceClient, error) {
	primary, err := cryptoutils.NewECSigner()
	if err != nil {
		return nil, fmt.Errorf("failed to generate primary key: %w", err)
	}
	delegation, err := cryptoutils.NewECSigner()
	if err != nil {
		return nil, fmt.Errorf("failed to generate delegation key: %w", err)
	}

	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	envelopeKey := make([]byte, cryptoutils.EnvelopeKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, seed, nil, []byte(envelopeKeyInfo)), envelopeKey); err != nil {
		return nil, fmt.Errorf("failed to derive envelope key: %w", err)
	}

	return &DeviceClient{
		lockURL:     lockURL,
		httpClient:  defaultHTTPClient(),
		primary:     primary,
		delegation:  delegation,
		attestor:    attestor,
		envelopeKey: envelopeKey,
		auditClient: auditClient,
	}, nil
}

// DeviceID returns the device's fingerprint.
func (c *DeviceClient) DeviceID() interfaces.DeviceID {
	return c.primary.Public().Fingerprint()
}

// RegisterAudit enrolls the device with the audit co-signer. Must run before
// pairing so the co-signer's public key can travel in the finish payload.
func (c *DeviceClient) RegisterAudit(ctx context.Context) error {
	clientID, serverPub, err := c.auditClient.Register(ctx, c.primary.Public())
	if err != nil {
		return fmt.Errorf("audit registration failed: %w", err)
	}
	c.auditClientID = clientID
	c.auditServerPub = serverPub
	return nil
}

// GetPairingChallenge requests a new pairing challenge from the lock server.
func (c *DeviceClient) GetPairingChallenge(ctx context.Context) (api.PairChallengeResponse, error) {
	var resp api.PairChallengeResponse
	if err := c.post(ctx, "/api/pair/get-challenge", nil, &resp); err != nil {
		return api.PairChallengeResponse{}, err
	}
	return resp, nil
}

// PairInitial performs the full factory enrollment flow with the out-of-band
// secret.
func (c *DeviceClient) PairInitial(ctx context.Context, secret string) (interfaces.DeviceID, error) {
	challenge, err := c.GetPairingChallenge(ctx)
	if err != nil {
		return "", err
	}
	if challenge.Kind != interfaces.KindInitial {
		return "", fmt.Errorf("lock server already has a paired device")
	}

	payload, err := c.buildFinishPayload(challenge.ID)
	if err != nil {
		return "", err
	}

	var resp api.FinishResponse
	err = c.post(ctx, "/api/pair/initial/finish", api.InitialFinishRequest{
		ChallengeID:   challenge.ID,
		FinishPayload: payload,
		MAC:           cryptoutils.ComputeMAC([]byte(secret), payload),
	}, &resp)
	if err != nil {
		return "", err
	}
	return interfaces.DeviceID(resp.DeviceID), nil
}

// StartDelegatedPairing requests a delegated challenge and uploads this
// device's finish payload for a delegator to approve. Returns the challenge
// id to poll.
func (c *DeviceClient) StartDelegatedPairing(ctx context.Context) (interfaces.ChallengeID, error) {
	challenge, err := c.GetPairingChallenge(ctx)
	if err != nil {
		return "", err
	}
	if challenge.Kind != interfaces.KindDelegated {
		return "", fmt.Errorf("lock server has no paired device to delegate from")
	}

	payload, err := c.buildFinishPayload(challenge.ID)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/api/pair/delegated/%s/finish-payload", c.lockURL, challenge.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("payload upload failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("payload upload failed with code %d: %s", resp.StatusCode, string(body))
	}

	return challenge.ID, nil
}

// ApproveDelegation is the delegator side: download the waiting payload, sign
// a delegation over it, and submit the signature.
func (c *DeviceClient) ApproveDelegation(ctx context.Context, challengeID interfaces.ChallengeID, expiresAt int64, allowedEntities []interfaces.EntityID) (interfaces.DeviceID, error) {
	url := fmt.Sprintf("%s/api/pair/delegated/%s/finish-payload", c.lockURL, challengeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("payload download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("payload download failed with code %d: %s", resp.StatusCode, string(body))
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	delegationBytes, err := json.Marshal(interfaces.Delegation{
		FinishPayload:   payload,
		ExpiresAt:       expiresAt,
		AllowedEntities: allowedEntities,
	})
	if err != nil {
		return "", err
	}
	signature, err := c.delegation.Sign(delegationBytes)
	if err != nil {
		return "", fmt.Errorf("delegation signing failed: %w", err)
	}

	var finishResp api.FinishResponse
	err = c.post(ctx, fmt.Sprintf("/api/pair/delegated/%s/finish", challengeID), api.DelegatedFinishRequest{
		DelegatorID: string(c.DeviceID()),
		Delegation:  delegationBytes,
		Signature:   signature,
	}, &finishResp)
	if err != nil {
		return "", err
	}
	return interfaces.DeviceID(finishResp.DeviceID), nil
}

// PollPairStatus checks the delegated-pairing state with bounded retries,
// returning the last observed status.
func (c *DeviceClient) PollPairStatus(ctx context.Context, challengeID interfaces.ChallengeID, interval time.Duration, attempts int) (interfaces.PairStatus, error) {
	status := interfaces.StatusPending
	for i := 0; i < attempts; i++ {
		var resp api.StatusResponse
		err := c.get(ctx, fmt.Sprintf("/api/pair/%s/status", challengeID), &resp)
		if err != nil {
			return status, err
		}
		status = resp.Status
		if status != interfaces.StatusPending {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-time.After(interval):
		}
	}
	return status, nil
}

// Unlock performs the full challenge-response unlock flow against an entity.
func (c *DeviceClient) Unlock(ctx context.Context, entity interfaces.EntityID) error {
	if c.auditClientID == "" {
		return fmt.Errorf("device not registered with audit service")
	}

	var challenge api.UnlockStartResponse
	err := c.post(ctx, "/api/unlock/start", api.UnlockStartRequest{EntityID: string(entity)}, &challenge)
	if err != nil {
		return err
	}

	plaintext, err := json.Marshal(interfaces.UnlockChallenge{
		ID:        challenge.ID,
		Timestamp: challenge.Timestamp,
		EntityID:  challenge.EntityID,
	})
	if err != nil {
		return err
	}
	sealed, err := cryptoutils.SealEnvelope(plaintext, c.envelopeKey)
	if err != nil {
		return fmt.Errorf("envelope sealing failed: %w", err)
	}

	clientSig, err := c.primary.Sign(sealed)
	if err != nil {
		return fmt.Errorf("envelope signing failed: %w", err)
	}

	stamp, auditSig, err := c.auditClient.Sign(ctx, c.auditClientID, sealed, clientSig)
	if err != nil {
		return fmt.Errorf("audit co-signing failed: %w", err)
	}

	var status struct{}
	return c.post(ctx, fmt.Sprintf("/api/unlock/%s/finish", challenge.ID), interfaces.SignedRequestEnvelope{
		DeviceID:        c.DeviceID(),
		SealedEnvelope:  sealed,
		ClientSignature: clientSig,
		AuditStamp:      stamp,
		AuditSignature:  auditSig,
	}, &status)
}

// Entities lists the lock entities the server is configured with.
func (c *DeviceClient) Entities(ctx context.Context) ([]api.EntityInfo, error) {
	var entities []api.EntityInfo
	if err := c.get(ctx, "/api/entities", &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

// buildFinishPayload assembles and serializes the enrollment document with
// fresh attestation chains bound to the challenge.
func (c *DeviceClient) buildFinishPayload(challengeID interfaces.ChallengeID) ([]byte, error) {
	if c.auditClientID == "" {
		return nil, fmt.Errorf("device not registered with audit service")
	}

	primaryChain, err := c.attestor.AttestKey(c.primary.Public(), challengeID, false)
	if err != nil {
		return nil, fmt.Errorf("primary key attestation failed: %w", err)
	}
	delegationChain, err := c.attestor.AttestKey(c.delegation.Public(), challengeID, true)
	if err != nil {
		return nil, fmt.Errorf("delegation key attestation failed: %w", err)
	}

	return json.Marshal(interfaces.PairFinishPayload{
		ChallengeID:                challengeID,
		PrimaryPublicKey:           c.primary.Public().String(),
		DelegationPublicKey:        c.delegation.Public().String(),
		EnvelopeKey:                base64.StdEncoding.EncodeToString(c.envelopeKey),
		AuditPublicKey:             base64.StdEncoding.EncodeToString(c.auditServerPub),
		PrimaryAttestationChain:    encodeChain(primaryChain),
		DelegationAttestationChain: encodeChain(delegationChain),
	})
}

func encodeChain(chain [][]byte) []string {
	out := make([]string, len(chain))
	for i, der := range chain {
		out[i] = base64.StdEncoding.EncodeToString(der)
	}
	return out
}

func (c *DeviceClient) post(ctx context.Context, path string, reqBody, respBody any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		reqJSON, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(reqJSON)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.lockURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request to %s failed with code %d: %s", path, resp.StatusCode, string(body))
	}

	if respBody == nil || resp.StatusCode == http.StatusNoContent || resp.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(respBody)
}

func (c *DeviceClient) get(ctx context.Context, path string, respBody any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.lockURL+path, nil)
	if err != nil {
		return err
	}
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
