// Package common defines shared constants, sentinel errors and error types used
// across the sync engine, the reconciler and the repositories. Callers should use
// errors.Is / errors.As to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// ErrValidation marks bad caller input. ValidationError wraps it.
	ErrValidation = errors.New("validation error")

	// ErrSchemaUnsupported is returned by remote adapters that cannot describe
	// an object type; callers fall back to sampling.
	ErrSchemaUnsupported = errors.New("schema introspection unsupported")

	// ErrEditNotPermitted is returned by the local write path when the record
	// is locked by somebody else or the role may not edit a field.
	ErrEditNotPermitted = errors.New("edit not permitted")
)

// ValidationError reports a rejected caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Reason)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError is a shorthand for &ValidationError{...}.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// TransientError wraps a remote failure that may succeed on retry
// (network errors, 5xx, rate limiting).
type TransientError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient remote error: %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient remote error: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err carries a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// SchemaDriftError means an incoming record carries a field that has no local
// column yet.
type SchemaDriftError struct {
	Table string
	Field string
	Err   error
}

func (e *SchemaDriftError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema drift on %s: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("schema drift on %s.%s: %v", e.Table, e.Field, e.Err)
}

func (e *SchemaDriftError) Unwrap() error { return e.Err }
