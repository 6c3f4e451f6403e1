package contracts

import (
	"errors"
	"fmt"
)

// Code is the stable error/decision vocabulary surfaced to callers.
// Callers never see raw internal errors, only these codes.
type Code string

const (
	CodeInvalidRequest      Code = "INVALID_REQUEST"
	CodeSnapshotEmpty       Code = "SNAPSHOT_EMPTY"
	CodeMissingLineage      Code = "MISSING_LINEAGE"
	CodeCoherenceBlocked    Code = "COHERENCE_BLOCKED"
	CodeModelOutputInvalid  Code = "MODEL_OUTPUT_INVALID"
	CodeIdempotencyConflict Code = "IDEMPOTENCY_CONFLICT"
	CodeValidationError     Code = "VALIDATION_ERROR"
	CodePolicyDeferred      Code = "POLICY_DEFERRED"
	CodePolicyOutputInvalid Code = "POLICY_OUTPUT_INVALID"
)

// Error is a typed error carrying a stable code.
type Error struct {
	Code   Code   `json:"code"`
	Detail string `json:"detail,omitempty"`
	// Retryable hints whether re-submitting the same request can succeed.
	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// NewError constructs a coded error. Retryable is derived from the code:
// deferred and empty-snapshot conditions clear themselves as upstream
// stages progress, the rest need a changed request.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{
		Code:      code,
		Detail:    fmt.Sprintf(format, args...),
		Retryable: code == CodePolicyDeferred || code == CodeSnapshotEmpty,
	}
}

// CodeOf extracts the stable code from err, or VALIDATION_ERROR when err
// is not a contracts error. Unknown failures never map to a permissive code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeValidationError
}

// IsRetryable reports whether err carries a retryable code.
func IsRetryable(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}
