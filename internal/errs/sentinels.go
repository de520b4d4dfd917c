// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks malformed or missing input. Returned wrapped in *ValidationError.
	ErrValidation = errors.New("validation")

	// ErrUnknownPrincipal indicates no admin/user exists for the identifier.
	ErrUnknownPrincipal = errors.New("unknown principal")

	// ErrInvalidChallenge indicates the challenge digest did not match.
	ErrInvalidChallenge = errors.New("invalid challenge")

	// ErrInvalidOrExpiredToken indicates the presented access token is absent, expired or different.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., user email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidTargetIdentifier indicates the registration target is not a valid email address.
	ErrInvalidTargetIdentifier = errors.New("invalid target identifier")

	// ErrStoreUnavailable indicates a transient storage failure. Callers may retry.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrUpstream indicates the telemetry service failed or rejected a call.
	ErrUpstream = errors.New("telemetry upstream failed")
)

// ValidationError describes a single rejected input field.
type ValidationError struct {
	Field  string
	Reason string

	// kind is an optional, more specific sentinel (e.g. ErrInvalidTargetIdentifier).
	kind error
}

// Invalid builds a ValidationError for field.
func Invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// InvalidTarget builds the ValidationError returned for a bad registration target.
func InvalidTarget(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, kind: ErrInvalidTargetIdentifier}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrValidation and the specific kind, if any.
func (e *ValidationError) Unwrap() []error {
	if e.kind != nil {
		return []error{ErrValidation, e.kind}
	}
	return []error{ErrValidation}
}

// Unavailable wraps a driver error as ErrStoreUnavailable, keeping the cause.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// ValidationErrors collects every rejected field of one request.
type ValidationErrors []*ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

func (v ValidationErrors) Unwrap() []error {
	out := make([]error, len(v))
	for i, e := range v {
		out[i] = e
	}
	return out
}

// OrNil returns nil when nothing was collected.
func (v ValidationErrors) OrNil() error {
	if len(v) == 0 {
		return nil
	}
	return v
}
