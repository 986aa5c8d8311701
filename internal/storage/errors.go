package storage

import "errors"

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVerdictConflict is returned when an upsert would replace a final verdict
	// with a different one.
	ErrVerdictConflict = errors.New("verdict conflict: final verdict cannot change")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
