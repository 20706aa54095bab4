// Package apperr implements the error-kind taxonomy from SPEC_FULL.md §7.
// Kinds are not Go types but a small closed set of sentinel wrappers, mirroring
// the teacher's wrap-with-context idiom (see okx.go's "PROVIDER_DEGRADED: %w")
// generalized across the whole engine instead of one provider.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the seven error kinds in SPEC_FULL.md §7.
type Kind string

const (
	KindUpstreamTransient  Kind = "UPSTREAM_TRANSIENT"
	KindUpstreamPermanent  Kind = "UPSTREAM_PERMANENT"
	KindValidation         Kind = "VALIDATION"
	KindIdempotencyConflict Kind = "IDEMPOTENCY_CONFLICT"
	KindIntegrityInvariant Kind = "INTEGRITY_INVARIANT"
	KindConfigInvalid      Kind = "CONFIG_INVALID"
	KindInternal           Kind = "INTERNAL"
)

// Error carries a Kind alongside the wrapped cause.
type Error struct {
	K       Kind
	Op      string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.K, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.K, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a new kinded error.
func New(k Kind, op string, err error) *Error {
	return &Error{K: k, Op: op, Err: err}
}

// Wrap is shorthand for New with a formatted op.
func Wrap(k Kind, err error, format string, args ...any) *Error {
	return &Error{K: k, Op: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err, defaulting to KindInternal when err does
// not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.K
	}
	return KindInternal
}

// IsRetryable reports whether the error kind should be retried within the
// operation that produced it (UpstreamTransient only, per §7).
func IsRetryable(err error) bool {
	return KindOf(err) == KindUpstreamTransient
}

// Degrades reports whether an error should mark the current cycle degraded
// rather than abort it outright.
func Degrades(err error) bool {
	switch KindOf(err) {
	case KindUpstreamTransient, KindInternal:
		return true
	default:
		return false
	}
}
