package model

import (
	"errors"
	"fmt"
)

var (
	// ErrEmbedding means the content embedding could not be produced.
	ErrEmbedding = errors.New("embedding unavailable")
	// ErrBackendUnavailable means the vector backend failed or timed out.
	ErrBackendUnavailable = errors.New("vector backend unavailable")
	// ErrClassification means a facet or emotion classifier failed. Callers
	// recover with a default label; it never leaves the engine.
	ErrClassification = errors.New("classification failed")
	// ErrValidation means the request was rejected before any I/O.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound means no memory has the requested id.
	ErrNotFound = errors.New("memory not found")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
