package shared

import "errors"

var (
	// ErrNotFound indicates an idempotency key or audit target that does not exist.
	ErrNotFound = errors.New("shared: not found")
	// ErrIdempotencyConflict indicates a key reused with a different payload.
	ErrIdempotencyConflict = errors.New("shared: idempotency key reused with a different payload")
)
