package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the core error taxonomy. Callers branch with
// errors.Is; the HTTP layer maps each to a status code.
var (
	// ErrUnsupportedModel indicates a model outside the allow-list.
	ErrUnsupportedModel = errors.New("unsupported model")

	// ErrUpstream indicates the completion capability failed.
	ErrUpstream = errors.New("upstream generation failed")

	// ErrValidation indicates a malformed payload, rejected before any
	// side effect.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateName indicates a per-owner prompt name collision.
	ErrDuplicateName = errors.New("duplicate prompt name")

	// ErrNotFound indicates a record that is absent or owned by a
	// different caller. The two cases are indistinguishable on purpose.
	ErrNotFound = errors.New("not found")

	// ErrUnauthenticated indicates a request without a valid session.
	ErrUnauthenticated = errors.New("not authenticated")
)

// ValidationError wraps ErrValidation with the offending field.
func ValidationError(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrValidation, field, reason)
}
