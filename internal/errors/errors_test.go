package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayError_ErrorWithCause(t *testing.T) {
	cause := errors.New("connection refused")
	relayErr := ErrDatabaseError(cause)

	assert.Contains(t, relayErr.Error(), "DATABASE_ERROR")
	assert.Contains(t, relayErr.Error(), "connection refused")
}

func TestRelayError_ErrorWithoutCause(t *testing.T) {
	relayErr := ErrMissingField("receiver_id")

	assert.Contains(t, relayErr.Error(), "MISSING_FIELD")
	assert.Contains(t, relayErr.Error(), "receiver_id")
	assert.NotContains(t, relayErr.Error(), "caused by")
}

func TestRelayError_Unwrap(t *testing.T) {
	cause := errors.New("bad signature")
	relayErr := ErrInvalidToken(cause)

	assert.ErrorIs(t, relayErr, cause)
}

func TestAuthErrors_AreFatal(t *testing.T) {
	assert.True(t, ErrInvalidToken(nil).IsFatal())
	assert.True(t, ErrExpiredToken(nil).IsFatal())
}

func TestNonAuthErrors_AreRecoverable(t *testing.T) {
	assert.False(t, ErrInvalidEventFormat("bad json", nil).IsFatal())
	assert.False(t, ErrUnknownEvent("teleport").IsFatal())
	assert.False(t, ErrMissingField("content").IsFatal())
	assert.False(t, NewOwnershipError("not yours").IsFatal())
	assert.False(t, ErrDatabaseError(nil).IsFatal())
	assert.False(t, ErrTooManyRequests(1000).IsFatal())
}

func TestErrorCategories(t *testing.T) {
	tests := []struct {
		name     string
		err      *RelayError
		category ErrorCategory
		code     ErrorCode
	}{
		{"invalid token", ErrInvalidToken(nil), CategoryAuth, ErrCodeInvalidToken},
		{"expired token", ErrExpiredToken(nil), CategoryAuth, ErrCodeExpiredToken},
		{"invalid format", ErrInvalidEventFormat("x", nil), CategoryProtocol, ErrCodeInvalidFormat},
		{"unknown event", ErrUnknownEvent("x"), CategoryProtocol, ErrCodeUnknownEvent},
		{"missing field", ErrMissingField("x"), CategoryProtocol, ErrCodeMissingField},
		{"not owner", NewOwnershipError("x"), CategoryOwnership, ErrCodeNotOwner},
		{"database error", ErrDatabaseError(nil), CategoryStore, ErrCodeDatabaseError},
		{"too many requests", ErrTooManyRequests(1000), CategoryRateLimit, ErrCodeTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.category, tt.err.Category)
			assert.Equal(t, tt.code, tt.err.Code)
		})
	}
}

func TestToErrorInfo_CarriesAllFields(t *testing.T) {
	relayErr := ErrTooManyRequests(2500)

	info := relayErr.ToErrorInfo()

	require.NotNil(t, info)
	assert.Equal(t, "TOO_MANY_REQUESTS", info.Code)
	assert.True(t, info.Recoverable)
	assert.Equal(t, 2500, info.RetryAfter)
	assert.NotEmpty(t, info.Message)
}

func TestToErrorInfo_NoRetryAfterForNonRateLimit(t *testing.T) {
	info := NewOwnershipError("You cannot delete this message").ToErrorInfo()

	assert.Equal(t, "NOT_OWNER", info.Code)
	assert.Zero(t, info.RetryAfter)
}
