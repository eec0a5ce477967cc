package storage

import "errors"

// Sentinel errors returned by all store implementations.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey indicates a unique constraint violation.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput indicates malformed input data.
	ErrInvalidInput = errors.New("invalid input")
)
