package core

import (
	"errors"
	"fmt"

	"github.com/pxl-research/tai-mcp-memory/pkg/store"
)

// Predefined errors for common failure scenarios.
var (
	// ErrNotFound indicates that a requested memory, summary, or topic
	// does not exist. It is the record store's sentinel, re-exported so
	// callers can match not-found outcomes without importing pkg/store.
	ErrNotFound = store.ErrNotFound

	// ErrInvalidInput indicates that the caller violated an operation's
	// contract (empty content, no update fields, and so on).
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrStorageOperation indicates that a record store operation failed.
	ErrStorageOperation = errors.New("storage operation failed")

	// ErrLLMOperation indicates that an LLM operation failed.
	ErrLLMOperation = errors.New("llm operation failed")
)

// MemoryError wraps errors with operation context.
//
// It records which operation failed, making error messages more useful for
// debugging. errors.Is and errors.As see through it via Unwrap.
type MemoryError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "memory: <Op>: <Err>"
func (e *MemoryError) Error() string {
	return fmt.Sprintf("memory: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// NewMemoryError creates a new MemoryError wrapping the given error.
//
// If err is nil, returns nil, which allows unconditional wrapping at
// return sites.
func NewMemoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MemoryError{
		Op:  op,
		Err: err,
	}
}
