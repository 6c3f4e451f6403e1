package contracts

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfUnwrapsErrors(t *testing.T) {
	base := NewError(CodeCoherenceBlocked, "blocked")
	wrapped := fmt.Errorf("while advancing: %w", base)

	assert.Equal(t, CodeCoherenceBlocked, CodeOf(wrapped))
	assert.Equal(t, CodeCoherenceBlocked, CodeOf(base))
}

func TestCodeOfDefaultsClosed(t *testing.T) {
	// Unknown failures must never map to a permissive code.
	assert.Equal(t, CodeValidationError, CodeOf(assert.AnError))
	assert.Empty(t, CodeOf(nil))
}

func TestRetryableByCode(t *testing.T) {
	assert.True(t, IsRetryable(NewError(CodePolicyDeferred, "later")))
	assert.True(t, IsRetryable(NewError(CodeSnapshotEmpty, "no history")))
	assert.False(t, IsRetryable(NewError(CodeCoherenceBlocked, "blocked")))
	assert.False(t, IsRetryable(NewError(CodeIdempotencyConflict, "diverged")))
	assert.False(t, IsRetryable(assert.AnError))
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "INVALID_REQUEST: no tenant", NewError(CodeInvalidRequest, "no tenant").Error())
	assert.Equal(t, "INVALID_REQUEST", (&Error{Code: CodeInvalidRequest}).Error())
}
