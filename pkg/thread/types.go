package thread

import (
	"fmt"
	"time"
)

// Turn is a single stored conversation turn.
type Turn struct {
	// ThreadID identifies the thread this turn belongs to
	ThreadID string `json:"thread_id"`

	// Seq is the per-thread sequence number, dense and starting at 1
	Seq int64 `json:"seq"`

	// Role is the turn author (user or assistant)
	Role string `json:"role"`

	// Content is the turn text
	Content string `json:"content"`

	// CreatedAt is when the store accepted the turn
	CreatedAt time.Time `json:"created_at"`
}

// NewTurn is the caller-supplied part of a turn. The store assigns the
// sequence number and timestamp.
type NewTurn struct {
	Role    string
	Content string
}

// Turn role constants.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// StorageError wraps a backend failure with the backend name and operation.
type StorageError struct {
	// Backend is the backend name (memory, sqlite)
	Backend string

	// Op is the failed operation
	Op string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("thread storage %s: %s failed: %v", e.Backend, e.Op, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a StorageError.
func NewStorageError(backend, op string, cause error) *StorageError {
	return &StorageError{Backend: backend, Op: op, Cause: cause}
}

// ValidationError reports an invalid turn submitted for append.
type ValidationError struct {
	// Field is the invalid field
	Field string

	// Message describes what is invalid
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid turn: field %q: %s", e.Field, e.Message)
}
