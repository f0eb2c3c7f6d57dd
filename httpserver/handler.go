package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quicklock/lock-pairing-backend/actuator"
	"github.com/quicklock/lock-pairing-backend/api"
	"github.com/quicklock/lock-pairing-backend/interfaces"
	"github.com/quicklock/lock-pairing-backend/pairing"
	"github.com/quicklock/lock-pairing-backend/unlock"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// RequestError provides structured error information for HTTP responses.
// It includes both an HTTP status code and the underlying error.
type RequestError struct {
	// StatusCode is the HTTP status code to return.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error returns the error message from the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

// Handler processes HTTP requests for the lock server. It decodes wire
// messages, dispatches to the coordinators, and maps their errors to
// responses.
type Handler struct {
	pairing  *pairing.Coordinator
	unlock   *unlock.Coordinator
	entities map[interfaces.EntityID]actuator.Entity
	log      *slog.Logger

	// displaySecret presents the one-time pairing secret out of band.
	displaySecret func(secret string)
}

// NewHandler creates an HTTP request handler over the two coordinators.
func NewHandler(pairingCoordinator *pairing.Coordinator, unlockCoordinator *unlock.Coordinator, entities map[interfaces.EntityID]actuator.Entity, log *slog.Logger) *Handler {
	return &Handler{
		pairing:  pairingCoordinator,
		unlock:   unlockCoordinator,
		entities: entities,
		log:      log,
		displaySecret: func(string) {},
	}
}

// WithSecretDisplay sets the out-of-band channel the one-time pairing secret
// is presented through, e.g. a QR code on the lock server's display.
func (h *Handler) WithSecretDisplay(display func(secret string)) *Handler {
	h.displaySecret = display
	return h
}

// HandlePairGetChallenge issues a new pairing challenge.
//
// URL format: POST /api/pair/get-challenge
func (h *Handler) HandlePairGetChallenge(w http.ResponseWriter, r *http.Request) {
	challenge, err := h.pairing.GetChallenge()
	if err != nil {
		h.reject(w, r, err)
		return
	}
	h.writeJSON(w, api.PairChallengeResponse{
		ID:        challenge.ID,
		Timestamp: challenge.Timestamp,
		Kind:      challenge.Kind,
	})
}

// HandlePairInitialStart arms the factory enrollment flow with a fresh
// one-time secret. The secret is not returned to the caller; the lock server
// presents it out of band, typically as a QR code on a local display.
//
// URL format: POST /api/pair/initial/start
func (h *Handler) HandlePairInitialStart(w http.ResponseWriter, r *http.Request) {
	secret, err := h.pairing.NewInitialSecret()
	if err != nil {
		h.reject(w, r, err)
		return
	}

	h.log.Info("Initial pairing secret armed, presenting out of band")
	h.displaySecret(secret)

	w.WriteHeader(http.StatusNoContent)
}

// HandlePairInitialFinish completes the factory enrollment flow.
//
// URL format: POST /api/pair/initial/finish
func (h *Handler) HandlePairInitialFinish(w http.ResponseWriter, r *http.Request) {
	var req api.InitialFinishRequest
	if !h.decode(w, r, &req) {
		return
	}

	deviceID, err := h.pairing.FinishInitial(r.Context(), req.ChallengeID, req.FinishPayload, req.MAC)
	if err != nil {
		h.reject(w, r, err)
		return
	}
	h.writeJSON(w, api.FinishResponse{DeviceID: string(deviceID)})
}

// HandleUploadFinishPayload stores the delegatee's finish payload, write-once.
//
// URL format: POST /api/pair/delegated/{challengeId}/finish-payload
func (h *Handler) HandleUploadFinishPayload(w http.ResponseWriter, r *http.Request) {
	challengeID := interfaces.ChallengeID(chi.URLParam(r, "challengeId"))

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil || len(payload) == 0 {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	if err := h.pairing.SubmitFinishPayload(challengeID, payload); err != nil {
		h.reject(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDownloadFinishPayload returns the uploaded finish payload for the
// delegator to review and sign. Answers 404 while nothing is uploaded yet.
//
// URL format: GET /api/pair/delegated/{challengeId}/finish-payload
func (h *Handler) HandleDownloadFinishPayload(w http.ResponseWriter, r *http.Request) {
	challengeID := interfaces.ChallengeID(chi.URLParam(r, "challengeId"))

	payload, err := h.pairing.FinishPayload(challengeID)
	if err != nil {
		h.reject(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(payload)
}

// HandlePairDelegatedFinish completes a delegated enrollment with the
// delegator's signature.
//
// URL format: POST /api/pair/delegated/{challengeId}/finish
func (h *Handler) HandlePairDelegatedFinish(w http.ResponseWriter, r *http.Request) {
	challengeID := interfaces.ChallengeID(chi.URLParam(r, "challengeId"))

	var req api.DelegatedFinishRequest
	if !h.decode(w, r, &req) {
		return
	}

	deviceID, err := h.pairing.FinishDelegated(r.Context(), challengeID, interfaces.DeviceID(req.DelegatorID), req.Delegation, req.Signature)
	if err != nil {
		h.reject(w, r, err)
		return
	}
	h.writeJSON(w, api.FinishResponse{DeviceID: string(deviceID)})
}

// HandlePairStatus answers the delegated-pairing poll.
//
// URL format: GET /api/pair/{challengeId}/status
func (h *Handler) HandlePairStatus(w http.ResponseWriter, r *http.Request) {
	challengeID := interfaces.ChallengeID(chi.URLParam(r, "challengeId"))
	h.writeJSON(w, api.StatusResponse{Status: h.pairing.Status(challengeID)})
}

// HandleUnlockStart issues an unlock challenge for an entity.
//
// URL format: POST /api/unlock/start
func (h *Handler) HandleUnlockStart(w http.ResponseWriter, r *http.Request) {
	var req api.UnlockStartRequest
	if !h.decode(w, r, &req) {
		return
	}

	challenge, err := h.unlock.Start(interfaces.EntityID(req.EntityID))
	if err != nil {
		h.reject(w, r, err)
		return
	}
	h.writeJSON(w, api.UnlockStartResponse{
		ID:        challenge.ID,
		Timestamp: challenge.Timestamp,
		EntityID:  challenge.EntityID,
	})
}

// HandleUnlockFinish verifies the signed envelope bundle and actuates.
//
// URL format: POST /api/unlock/{challengeId}/finish
func (h *Handler) HandleUnlockFinish(w http.ResponseWriter, r *http.Request) {
	challengeID := interfaces.ChallengeID(chi.URLParam(r, "challengeId"))

	var envelope interfaces.SignedRequestEnvelope
	if !h.decode(w, r, &envelope) {
		return
	}

	if err := h.unlock.Finish(r.Context(), challengeID, envelope); err != nil {
		h.reject(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandleEntities lists the configured lock entities.
//
// URL format: GET /api/entities
func (h *Handler) HandleEntities(w http.ResponseWriter, r *http.Request) {
	entities := make([]api.EntityInfo, 0, len(h.entities))
	for id, entity := range h.entities {
		entities = append(entities, api.EntityInfo{ID: string(id), Name: entity.Name})
	}
	h.writeJSON(w, entities)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := io.LimitReader(r.Body, maxBodySize)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

// reject maps a coordinator error to a response. Protocol-visible conditions
// keep their status; every verification failure becomes the same generic 403
// so the response carries no hint of which check failed.
func (h *Handler) reject(w http.ResponseWriter, r *http.Request, err error) {
	h.log.Info("Request rejected",
		slog.String("path", r.URL.Path),
		"err", err)

	switch {
	case errors.Is(err, interfaces.ErrChallengePending):
		http.Error(w, "pending", http.StatusNotFound)
	case errors.Is(err, interfaces.ErrEntityNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, interfaces.ErrDuplicateSubmission):
		http.Error(w, "conflict", http.StatusConflict)
	default:
		http.Error(w, "rejected", http.StatusForbidden)
	}
}
