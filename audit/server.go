package audit

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/quicklock/lock-pairing-backend/interfaces"
)

// RegisterRequest enrolls a client public key with the co-signer.
type RegisterRequest struct {
	ClientPublicKey string `json:"clientPublicKey"` // base64 DER
}

// RegisterResponse returns the client id and the co-signing public key.
type RegisterResponse struct {
	ClientID        string `json:"clientId"`
	ServerPublicKey string `json:"serverPublicKey"` // base64 Ed25519
}

// SignRequest asks for a countersignature over a sealed envelope.
type SignRequest struct {
	ClientID        string `json:"clientId"`
	Envelope        []byte `json:"envelope"`
	ClientSignature []byte `json:"clientSignature"`
}

// SignResponse carries the stamp bytes and their signature.
type SignResponse struct {
	Stamp          []byte `json:"stamp"`
	AuditSignature []byte `json:"auditSignature"`
}

// Server exposes the co-signer over HTTP.
type Server struct {
	cosigner *Cosigner
	log      *slog.Logger
}

// NewServer wraps the co-signer core in an HTTP handler.
func NewServer(cosigner *Cosigner, logger *slog.Logger) *Server {
	return &Server{cosigner: cosigner, log: logger}
}

// Handler returns the audit service router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(func(next http.Handler) http.Handler {
		return httplogger.LoggingMiddlewareSlog(s.log, next)
	})

	r.Post("/api/register", s.handleRegister)
	r.Post("/api/sign", s.handleSign)
	r.Get("/api/device/{clientId}/logs", s.handleLogs)
	r.Get("/livez", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return r
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	clientKey, err := interfaces.NewPublicKeyFromBase64(req.ClientPublicKey)
	if err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	clientID, serverPub, err := s.cosigner.Register(r.Context(), clientKey)
	if err != nil {
		s.log.Error("Register failed", "err", err)
		http.Error(w, "rejected", http.StatusForbidden)
		return
	}

	writeJSON(w, RegisterResponse{
		ClientID:        string(clientID),
		ServerPublicKey: base64.StdEncoding.EncodeToString(serverPub),
	})
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	var req SignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	stamp, signature, err := s.cosigner.Sign(r.Context(), interfaces.DeviceID(req.ClientID), req.Envelope, req.ClientSignature)
	if err != nil {
		s.log.Error("Sign failed", "err", err, slog.String("client_id", req.ClientID))
		http.Error(w, "rejected", http.StatusForbidden)
		return
	}

	writeJSON(w, SignResponse{Stamp: stamp, AuditSignature: signature})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	clientID := interfaces.DeviceID(chi.URLParam(r, "clientId"))

	events, err := s.cosigner.Logs(r.Context(), clientID)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, events)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding failed", http.StatusInternalServerError)
	}
}
