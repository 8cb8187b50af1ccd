package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/credledger/pkg/archive"
	"github.com/Mindburn-Labs/credledger/pkg/credential"
	"github.com/Mindburn-Labs/credledger/pkg/crypto"
	"github.com/Mindburn-Labs/credledger/pkg/fraud"
	"github.com/Mindburn-Labs/credledger/pkg/integrity"
	"github.com/Mindburn-Labs/credledger/pkg/issuance"
	"github.com/Mindburn-Labs/credledger/pkg/ledger"
)

const maxBodyBytes = 1 << 20

// Server exposes an issuance.Service over HTTP.
type Server struct {
	svc       *issuance.Service
	schemas   schemaSet
	logger    *slog.Logger
	validator *JWTValidator
	limiter   Limiter
	idem      IdempotencyStore
	signer    crypto.Signer
	sink      archive.Sink
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithAuth requires bearer tokens validated by v.
func WithAuth(v *JWTValidator) ServerOption {
	return func(s *Server) { s.validator = v }
}

func WithLimiter(l Limiter) ServerOption {
	return func(s *Server) { s.limiter = l }
}

func WithIdempotency(store IdempotencyStore) ServerOption {
	return func(s *Server) { s.idem = store }
}

// WithArchive enables POST /v1/ledger/export.
func WithArchive(signer crypto.Signer, sink archive.Sink) ServerOption {
	return func(s *Server) {
		s.signer = signer
		s.sink = sink
	}
}

func NewServer(svc *issuance.Service, opts ...ServerOption) (*Server, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	s := &Server{
		svc:     svc,
		schemas: schemas,
		logger:  slog.Default().With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/tokens", s.handleIssue)
	mux.HandleFunc("POST /v1/tokens/verify", s.handleVerifyToken)
	mux.HandleFunc("GET /v1/tokens/{token_id}/status", s.handleStatus)
	mux.HandleFunc("POST /v1/tokens/{token_id}/revoke", s.handleRevoke)
	mux.HandleFunc("POST /v1/tokens/{token_id}/dispute", s.handleDispute)
	mux.HandleFunc("GET /v1/users/{user_id}/history", s.handleHistory)
	mux.HandleFunc("GET /v1/users/{user_id}/alerts", s.handleAlerts)
	mux.HandleFunc("GET /v1/users/{user_id}/portfolio", s.handlePortfolio)
	mux.HandleFunc("GET /v1/ledger/verify", s.handleVerifyLedger)
	mux.HandleFunc("POST /v1/ledger/export", s.handleExport)

	return chain(mux,
		RequestID,
		AccessLog(s.logger),
		Authenticate(s.validator),
		RateLimit(s.limiter, s.logger),
		Idempotency(s.idem),
	)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request, schema string, v any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "request body too large or unreadable")
		return false
	}
	if err := s.schemas.decode(schema, body, v); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", err.Error())
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"entries": s.svc.Ledger().Len(),
	})
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req issuance.IssueRequest
	if !s.readBody(w, r, "issue", &req) {
		return
	}
	if !authorizeOrg(w, r, req.Mission.OrganizationID) {
		return
	}
	entry, err := s.svc.Issue(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

type verifyTokenResponse struct {
	TokenID      string            `json:"token_id"`
	Valid        bool              `json:"valid"`
	LedgerStatus credential.Status `json:"ledger_status"`
	// Current is true when the presented snapshot is the latest one on the ledger.
	Current bool `json:"current"`
}

func (s *Server) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	var tok credential.Token
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&tok); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "body must be a token object")
		return
	}
	resp := verifyTokenResponse{
		TokenID:      tok.ID(),
		Valid:        integrity.VerifyToken(tok),
		LedgerStatus: s.svc.Query().CurrentStatus(tok.ID()),
	}
	if latest, ok := s.svc.Query().Token(tok.ID()); ok {
		resp.Current = resp.Valid && latest.StateDigest() == tok.StateDigest()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("token_id")
	writeJSON(w, http.StatusOK, map[string]any{
		"token_id": id,
		"status":   s.svc.Query().CurrentStatus(id),
	})
}

type revokeRequest struct {
	Reason           string `json:"reason"`
	RevokerSignature []byte `json:"revoker_signature"`
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("token_id")
	var req revokeRequest
	if !s.readBody(w, r, "revoke", &req) {
		return
	}
	current, ok := s.svc.Query().Token(id)
	if !ok {
		WriteErrorR(w, r, http.StatusNotFound, "Not Found", fmt.Sprintf("token %s not found", id))
		return
	}
	if !authorizeOrg(w, r, current.OrganizationID()) {
		return
	}
	entry, err := s.svc.Revoke(r.Context(), id, req.Reason, req.RevokerSignature)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type disputeRequest struct {
	Reason     string `json:"reason"`
	DisputedBy string `json:"disputed_by"`
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	var req disputeRequest
	if !s.readBody(w, r, "dispute", &req) {
		return
	}
	if c, ok := ClaimsFromContext(r.Context()); ok {
		req.DisputedBy = c.Subject
	}
	entry, err := s.svc.Dispute(r.Context(), r.PathValue("token_id"), req.Reason, req.DisputedBy)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	writeJSON(w, http.StatusOK, struct {
		UserID  string         `json:"user_id"`
		Entries []ledger.Entry `json:"entries"`
	}{userID, s.svc.Query().History(userID, r.URL.Query().Get("token_id"))})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	writeJSON(w, http.StatusOK, struct {
		UserID string        `json:"user_id"`
		Alerts []fraud.Alert `json:"alerts"`
	}{userID, s.svc.Alerts(r.Context(), userID)})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Query().Portfolio(r.PathValue("user_id")))
}

func (s *Server) handleVerifyLedger(w http.ResponseWriter, r *http.Request) {
	report := s.svc.VerifyChain(r.Context())
	writeJSON(w, http.StatusOK, struct {
		Intact bool `json:"intact"`
		integrity.Report
	}{report.Intact(), report})
}

type exportRequest struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

type exportResponse struct {
	Ref string `json:"ref"`
	archive.Header
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.signer == nil || s.sink == nil {
		WriteErrorR(w, r, http.StatusNotImplemented, "Not Implemented", "evidence export is not configured")
		return
	}
	var req exportRequest
	if !s.readBody(w, r, "export", &req) {
		return
	}
	ref, bundle, err := s.svc.Export(r.Context(), req.From, req.To, s.signer, s.sink)
	switch {
	case errors.Is(err, archive.ErrEmptyBundle):
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "requested range holds no entries")
		return
	case err != nil:
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, exportResponse{Ref: ref, Header: bundle.Header})
}
