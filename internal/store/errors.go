package store

import (
	"errors"
	"fmt"
)

// Error taxonomy for the retrieval core. Callers branch with errors.Is:
// ErrStorage is retryable with backoff, the rest are caller errors.
var (
	// ErrStorage indicates the store is unreachable or an I/O operation
	// failed. Retryable.
	ErrStorage = errors.New("storage failure")

	// ErrNotFound indicates the referenced item id does not exist.
	// Idempotent callers may treat it as "already gone".
	ErrNotFound = errors.New("training item not found")

	// ErrInvalidRequest indicates malformed caller input. Not retryable.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid store configuration")
)

// InvalidRequestError names the field that failed validation so the outer
// tool layer can tell the caller what to fix.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

func (e *InvalidRequestError) Unwrap() error { return ErrInvalidRequest }

// invalidf builds an *InvalidRequestError.
func invalidf(field, format string, args ...any) error {
	return &InvalidRequestError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
