package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a session or message is missing, or when
	// the caller's scope does not match the stored session. Scope mismatch
	// is deliberately indistinguishable from absence.
	ErrNotFound = errors.New("not found")

	// ErrResourceExhausted is returned when the active turn limit is reached.
	ErrResourceExhausted = errors.New("active session limit reached")

	// ErrConflict is returned when a turn is already running for the session.
	ErrConflict = errors.New("a turn is already active for this session")

	// ErrShuttingDown is returned when the service no longer accepts turns.
	ErrShuttingDown = errors.New("server is shutting down")
)

// ValidationError wraps field-specific validation failures.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a validation error for field.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
