// Package api exposes the gating service over HTTP. Error responses use
// RFC 7807 problem details; every body carries the stable error code so
// clients can branch without parsing prose.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/crewline/ratchet/pkg/contracts"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
	// Code is the stable machine-readable error code.
	Code string `json:"code,omitempty"`
	// Retryable tells clients whether the same request may succeed later.
	Retryable bool `json:"retryable"`
	// RequestID links the response to server logs.
	RequestID string `json:"request_id,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// StatusForCode maps stable error codes to HTTP statuses.
func StatusForCode(code contracts.Code) int {
	switch code {
	case contracts.CodeInvalidRequest:
		return http.StatusBadRequest
	case contracts.CodeSnapshotEmpty,
		contracts.CodeCoherenceBlocked,
		contracts.CodePolicyDeferred,
		contracts.CodeIdempotencyConflict:
		return http.StatusConflict
	case contracts.CodeModelOutputInvalid, contracts.CodeMissingLineage:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// WriteProblem writes an RFC 7807 response for a coded error.
func WriteProblem(w http.ResponseWriter, r *http.Request, err error) {
	code := contracts.CodeOf(err)
	status := StatusForCode(code)

	detail := err.Error()
	if status == http.StatusInternalServerError {
		// Internal detail stays in the logs.
		detail = "An unexpected error occurred."
	}

	problem := &ProblemDetail{
		Type:      fmt.Sprintf("https://ratchet.crewline.dev/errors/%s", code),
		Title:     http.StatusText(status),
		Status:    status,
		Detail:    detail,
		Instance:  r.URL.Path,
		Code:      string(code),
		Retryable: contracts.IsRetryable(err),
		RequestID: w.Header().Get(headerRequestID),
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteBadRequest writes a 400 problem response.
func WriteBadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	WriteProblem(w, r, contracts.NewError(contracts.CodeInvalidRequest, "%s", detail))
}

// WriteTooManyRequests writes a 429 response with a Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(&ProblemDetail{
		Type:      "https://ratchet.crewline.dev/errors/RATE_LIMITED",
		Title:     http.StatusText(http.StatusTooManyRequests),
		Status:    http.StatusTooManyRequests,
		Detail:    "Rate limit exceeded. Retry after the specified interval.",
		Retryable: true,
	})
}

// WriteJSON writes a success payload.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
