// Package errs contains sentinel and typed errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist (or is not visible to the actor).
	ErrNotFound = errors.New("not found")

	// ErrUnauthenticated indicates missing, expired or invalid credentials.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrRateLimited indicates temporary lock due to repeated failed key exchanges.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidRole indicates a grant referencing an unknown, deprecated or out-of-context role.
	ErrInvalidRole = errors.New("invalid role")

	// ErrCycle indicates a move that would make a folder its own ancestor.
	ErrCycle = errors.New("folder hierarchy cycle")
)

// ReasonNotFoundOrForbidden is reported for every authorization denial.
const ReasonNotFoundOrForbidden = "not_found_or_forbidden"

// AuthorizationError is returned when the actor lacks capability or visibility.
// It deliberately matches ErrNotFound so callers cannot tell denial from absence.
type AuthorizationError struct {
	Kind   string
	ID     string
	Action string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s %s %s: %s", e.Action, e.Kind, e.ID, ReasonNotFoundOrForbidden)
}

// Reason returns the reason surfaced to callers.
func (e *AuthorizationError) Reason() string { return ReasonNotFoundOrForbidden }

// Is makes errors.Is(err, ErrNotFound) hold.
func (e *AuthorizationError) Is(target error) bool { return target == ErrNotFound }

// ValidationError carries field-level detail for a malformed mutation.
type ValidationError struct {
	Fields map[string]string
}

// Invalid builds a ValidationError for a single field.
func Invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation: " + strings.Join(parts, "; ")
}

// ConsistencyError reports an audit/resource write mismatch. The surrounding
// transaction is always rolled back when one is returned.
type ConsistencyError struct {
	Op  string
	Err error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency: %s: %v", e.Op, e.Err)
}

func (e *ConsistencyError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsConsistency reports whether err is (or wraps) a ConsistencyError.
func IsConsistency(err error) bool {
	var c *ConsistencyError
	return errors.As(err, &c)
}

// IsNotFound reports whether err means "absent or not visible".
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
