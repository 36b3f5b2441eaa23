// Package errors provides error handling functionality for the relay.
// It defines error categories, error codes, and error message generation.
package errors

import (
	"fmt"

	"github.com/real-rm/chatrelay/internal/event"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryAuth represents authentication failures (terminal for the connection)
	CategoryAuth ErrorCategory = "auth"
	// CategoryProtocol represents protocol violations (unparseable or unknown events)
	CategoryProtocol ErrorCategory = "protocol"
	// CategoryOwnership represents edit/delete attempts on another user's message
	CategoryOwnership ErrorCategory = "ownership"
	// CategoryStore represents persistence failures
	CategoryStore ErrorCategory = "store"
	// CategoryRateLimit represents rate limiting errors
	CategoryRateLimit ErrorCategory = "rate_limit"
)

// ErrorCode represents specific error codes
type ErrorCode string

const (
	// Authentication errors
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeExpiredToken ErrorCode = "EXPIRED_TOKEN"

	// Protocol errors
	ErrCodeInvalidFormat ErrorCode = "INVALID_FORMAT"
	ErrCodeUnknownEvent  ErrorCode = "UNKNOWN_EVENT"
	ErrCodeMissingField  ErrorCode = "MISSING_FIELD"

	// Ownership errors
	ErrCodeNotOwner ErrorCode = "NOT_OWNER"

	// Store errors
	ErrCodeDatabaseError ErrorCode = "DATABASE_ERROR"

	// Rate limiting errors
	ErrCodeTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"
)

// RelayError represents an application error with category and recoverability information
type RelayError struct {
	Category    ErrorCategory
	Code        ErrorCode
	Message     string
	Recoverable bool
	RetryAfter  int // milliseconds, only for rate limit errors
	Cause       error
}

// Error implements the error interface
func (e *RelayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *RelayError) Unwrap() error {
	return e.Cause
}

// IsFatal returns true if the error is fatal and requires connection closure
func (e *RelayError) IsFatal() bool {
	return !e.Recoverable
}

// ToErrorInfo converts a RelayError to an event.ErrorInfo for the wire protocol
func (e *RelayError) ToErrorInfo() *event.ErrorInfo {
	return &event.ErrorInfo{
		Code:        string(e.Code),
		Message:     e.Message,
		Recoverable: e.Recoverable,
		RetryAfter:  e.RetryAfter,
	}
}

// NewAuthError creates a new authentication error (fatal)
func NewAuthError(code ErrorCode, message string, cause error) *RelayError {
	return &RelayError{
		Category:    CategoryAuth,
		Code:        code,
		Message:     message,
		Recoverable: false, // Auth errors are fatal
		Cause:       cause,
	}
}

// NewProtocolError creates a new protocol violation error (recoverable)
func NewProtocolError(code ErrorCode, message string, cause error) *RelayError {
	return &RelayError{
		Category:    CategoryProtocol,
		Code:        code,
		Message:     message,
		Recoverable: true, // Protocol violations drop the event, not the connection
		Cause:       cause,
	}
}

// NewOwnershipError creates a new ownership denial error (recoverable)
func NewOwnershipError(message string) *RelayError {
	return &RelayError{
		Category:    CategoryOwnership,
		Code:        ErrCodeNotOwner,
		Message:     message,
		Recoverable: true,
	}
}

// NewStoreError creates a new persistence error (recoverable)
func NewStoreError(message string, cause error) *RelayError {
	return &RelayError{
		Category:    CategoryStore,
		Code:        ErrCodeDatabaseError,
		Message:     message,
		Recoverable: true, // The event is abandoned, the connection survives
		Cause:       cause,
	}
}

// NewRateLimitError creates a new rate limit error (recoverable with retry after)
func NewRateLimitError(message string, retryAfter int) *RelayError {
	return &RelayError{
		Category:    CategoryRateLimit,
		Code:        ErrCodeTooManyRequests,
		Message:     message,
		Recoverable: true,
		RetryAfter:  retryAfter,
	}
}

// Common error constructors for convenience

// ErrInvalidToken creates an invalid token error
func ErrInvalidToken(cause error) *RelayError {
	return NewAuthError(ErrCodeInvalidToken, "Invalid authentication token", cause)
}

// ErrExpiredToken creates an expired token error
func ErrExpiredToken(cause error) *RelayError {
	return NewAuthError(ErrCodeExpiredToken, "Authentication token has expired", cause)
}

// ErrInvalidEventFormat creates an invalid event format error
func ErrInvalidEventFormat(details string, cause error) *RelayError {
	return NewProtocolError(ErrCodeInvalidFormat, fmt.Sprintf("Invalid event format: %s", details), cause)
}

// ErrUnknownEvent creates an unknown event kind error
func ErrUnknownEvent(kind string) *RelayError {
	return NewProtocolError(ErrCodeUnknownEvent, fmt.Sprintf("Unknown event type: %s", kind), nil)
}

// ErrMissingField creates a missing field error
func ErrMissingField(fieldName string) *RelayError {
	return NewProtocolError(ErrCodeMissingField, fmt.Sprintf("Required field missing: %s", fieldName), nil)
}

// ErrDatabaseError creates a database error
func ErrDatabaseError(cause error) *RelayError {
	return NewStoreError("Database operation failed", cause)
}

// ErrTooManyRequests creates a too many requests error
func ErrTooManyRequests(retryAfter int) *RelayError {
	return NewRateLimitError("Too many requests, please slow down", retryAfter)
}
