package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity is not found. Cross-user reads
	// also surface ErrNotFound so existence is never leaked.
	ErrNotFound = errors.New("entity not found")

	// ErrForbidden is returned when a tool call would escape its user sandbox.
	ErrForbidden = errors.New("forbidden")

	// ErrConcurrentModification is returned when optimistic locking fails
	// after the bounded retries.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrTerminalState is returned when a mutation targets a SubAgent that
	// already reached a terminal status.
	ErrTerminalState = errors.New("subagent is in a terminal state")

	// ErrDaemonUnavailable is returned when a spawn is requested for a user
	// with no connected daemon.
	ErrDaemonUnavailable = errors.New("no daemon connected for user")

	// ErrQuotaExceeded is returned when a user is at the concurrent-agent cap.
	ErrQuotaExceeded = errors.New("concurrent agent quota exceeded")

	// ErrTimeout is returned when a wait or budget expires.
	ErrTimeout = errors.New("operation timed out")

	// ErrCancelled is returned when a task-scoped cancellation fires.
	ErrCancelled = errors.New("operation cancelled")
)

// Error code discriminators carried by HTTP error bodies and Task records.
const (
	CodeMissingUserID      = "MISSING_USER_ID"
	CodeInvalidQuery       = "INVALID_QUERY"
	CodeQueryTooLong       = "QUERY_TOO_LONG"
	CodeTaskNotFound       = "TASK_NOT_FOUND"
	CodeForbidden          = "FORBIDDEN"
	CodeDaemonUnavailable  = "DAEMON_UNAVAILABLE"
	CodeQuotaExceeded      = "QUOTA_EXCEEDED"
	CodeTimeout            = "TIMEOUT"
	CodeCancelled          = "CANCELLED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternalError      = "INTERNAL_ERROR"
)

// CodeFor maps a service error to its wire discriminator.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeTaskNotFound
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrDaemonUnavailable):
		return CodeDaemonUnavailable
	case errors.Is(err, ErrQuotaExceeded):
		return CodeQuotaExceeded
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrCancelled):
		return CodeCancelled
	case errors.Is(err, ErrConcurrentModification):
		return CodeServiceUnavailable
	default:
		return CodeInternalError
	}
}

// ValidationError wraps field-specific validation errors.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
