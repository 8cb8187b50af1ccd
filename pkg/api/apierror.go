// Package api serves the credential ledger over HTTP. Errors use RFC 7807
// problem details.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/credledger/pkg/credential"
	"github.com/Mindburn-Labs/credledger/pkg/issuance"
	"github.com/Mindburn-Labs/credledger/pkg/ledger"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	// TraceID is the X-Request-ID of the failed request.
	TraceID string `json:"trace_id,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func problemType(status int) string {
	return fmt.Sprintf("urn:credledger:problem:%d", status)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:   problemType(status),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// WriteErrorR is WriteError enriched with the request path and request id.
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:     problemType(status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  w.Header().Get("X-Request-ID"),
	})
}

func writeProblem(w http.ResponseWriter, p *ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

func WriteForbidden(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Insufficient permissions"
	}
	WriteError(w, http.StatusForbidden, "Forbidden", detail)
}

func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusNotFound, "Not Found", detail)
}

func WriteConflict(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusConflict, "Conflict", detail)
}

// WriteTooManyRequests writes a 429 with a Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteUnavailable writes a 503. Used when the ledger could not durably
// record an entry; the request may be retried.
func WriteUnavailable(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", detail)
}

// WriteInternal writes a 500. err is logged and never sent to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

// writeServiceError maps service sentinels to statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, credential.ErrInvalidInput):
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, issuance.ErrTokenNotFound):
		WriteErrorR(w, r, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, credential.ErrAlreadyRevoked), errors.Is(err, ledger.ErrStaleState):
		WriteErrorR(w, r, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ledger.ErrAppendFailed):
		slog.ErrorContext(r.Context(), "ledger append failed", "path", r.URL.Path, "error", err)
		WriteErrorR(w, r, http.StatusServiceUnavailable, "Service Unavailable", "the ledger could not record the entry; retry later")
	default:
		WriteInternal(w, err)
	}
}
