package storage

import "errors"

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a write collides with a natural key
	// owned by a different id.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrOutcomeAlreadySet is returned when an outcome write targets a record
	// that already carries a terminal outcome. Outcomes are write-once.
	ErrOutcomeAlreadySet = errors.New("outcome already set")
)
