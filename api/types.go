// Package api defines the wire messages of the lock server's HTTP protocol,
// shared by the server handlers and the device client.
package api

import (
	"github.com/quicklock/lock-pairing-backend/interfaces"
)

// PairChallengeResponse answers a pairing challenge request.
type PairChallengeResponse struct {
	ID        interfaces.ChallengeID   `json:"id"`
	Timestamp int64                    `json:"timestamp"`
	Kind      interfaces.ChallengeKind `json:"kind"`
}

// InitialFinishRequest completes the factory enrollment flow. FinishPayload
// carries the exact payload bytes the MAC was computed over.
type InitialFinishRequest struct {
	ChallengeID   interfaces.ChallengeID `json:"challengeId"`
	FinishPayload []byte                 `json:"finishPayload"`
	MAC           []byte                 `json:"mac"`
}

// DelegatedFinishRequest completes a delegated enrollment. Delegation carries
// the exact bytes the delegator signed.
type DelegatedFinishRequest struct {
	DelegatorID string `json:"delegatorId"`
	Delegation  []byte `json:"delegation"`
	Signature   []byte `json:"signature"`
}

// FinishResponse reports the committed device's fingerprint.
type FinishResponse struct {
	DeviceID string `json:"deviceId"`
}

// StatusResponse answers the delegated-pairing poll.
type StatusResponse struct {
	Status interfaces.PairStatus `json:"status"`
}

// UnlockStartRequest asks for an unlock challenge.
type UnlockStartRequest struct {
	EntityID string `json:"entityId"`
}

// UnlockStartResponse carries the issued unlock challenge.
type UnlockStartResponse struct {
	ID        interfaces.ChallengeID `json:"id"`
	Timestamp int64                  `json:"timestamp"`
	EntityID  interfaces.EntityID    `json:"entityId"`
}

// EntityInfo describes one configured lock entity.
type EntityInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
