// Package errs defines the closed set of error kinds that every CALIBER
// operation returns. Every failure path surfaces one of these types; none
// is ever swallowed into a bare nil.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies which member of the closed error set an error belongs to.
type Kind string

const (
	KindNotFound             Kind = "NotFound"
	KindVersionMismatch      Kind = "VersionMismatch"
	KindStateError           Kind = "StateError"
	KindContention           Kind = "Contention"
	KindIdempotencyConflict  Kind = "IdempotencyConflict"
	KindDimensionMismatch    Kind = "DimensionMismatch"
	KindProviderNotConfigured Kind = "ProviderNotConfigured"
	KindProviderUnavailable  Kind = "ProviderUnavailable"
	KindTimeoutExceeded      Kind = "TimeoutExceeded"
	KindConfigError          Kind = "ConfigError"
	KindValidationError      Kind = "ValidationError"
	KindStorage              Kind = "Storage"
)

// NotFound means a read target does not exist. Distinct from any other
// storage error so callers can branch on it without inspecting messages.
type NotFound struct {
	Entity string
	ID     string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("%s %s: not found", e.Entity, e.ID)
}
func (e *NotFound) Kind() Kind { return KindNotFound }

// VersionMismatch means a CAS precondition failed.
type VersionMismatch struct {
	Expected int
	Got      *int // nil when the current version could not be determined
}

func (e *VersionMismatch) Error() string {
	if e.Got == nil {
		return fmt.Sprintf("version mismatch: expected %d, current version unknown", e.Expected)
	}
	return fmt.Sprintf("version mismatch: expected %d, got %d", e.Expected, *e.Got)
}
func (e *VersionMismatch) Kind() Kind { return KindVersionMismatch }

// StateError means a saga transition was disallowed.
type StateError struct {
	From string
	To   string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("illegal transition from %q to %q", e.From, e.To)
}
func (e *StateError) Kind() Kind { return KindStateError }

// Contention means a lock is already held in an incompatible mode.
type Contention struct {
	ResourceType string
	ResourceID   string
}

func (e *Contention) Error() string {
	return fmt.Sprintf("lock contention on %s/%s", e.ResourceType, e.ResourceID)
}
func (e *Contention) Kind() Kind { return KindContention }

// IdempotencyConflict means the same key was reused with a different
// request body.
type IdempotencyConflict struct {
	Key string
}

func (e *IdempotencyConflict) Error() string {
	return fmt.Sprintf("idempotency key %q reused with a different request", e.Key)
}
func (e *IdempotencyConflict) Kind() Kind { return KindIdempotencyConflict }

// DimensionMismatch means two vectors had different lengths.
type DimensionMismatch struct {
	Expected int
	Got      int
}

func (e *DimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
func (e *DimensionMismatch) Kind() Kind { return KindDimensionMismatch }

// ProviderNotConfigured means no provider offers the required capability.
type ProviderNotConfigured struct {
	Capability string
}

func (e *ProviderNotConfigured) Error() string {
	return fmt.Sprintf("no provider configured for capability %q", e.Capability)
}
func (e *ProviderNotConfigured) Kind() Kind { return KindProviderNotConfigured }

// ProviderUnavailable means the provider's circuit breaker is open.
type ProviderUnavailable struct {
	Provider string
}

func (e *ProviderUnavailable) Error() string {
	return fmt.Sprintf("provider %q unavailable (circuit open)", e.Provider)
}
func (e *ProviderUnavailable) Kind() Kind { return KindProviderUnavailable }

// TimeoutExceeded means a deadline was hit.
type TimeoutExceeded struct {
	Op string
}

func (e *TimeoutExceeded) Error() string {
	if e.Op == "" {
		return "timeout exceeded"
	}
	return fmt.Sprintf("timeout exceeded: %s", e.Op)
}
func (e *TimeoutExceeded) Kind() Kind { return KindTimeoutExceeded }

// ConfigError means the supplied configuration was invalid.
type ConfigError struct {
	What string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config error: %s", e.What) }
func (e *ConfigError) Kind() Kind    { return KindConfigError }

// ValidationError means a DSL or entity invariant was violated.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Reason)
}
func (e *ValidationError) Kind() Kind { return KindValidationError }

// Storage wraps an underlying storage-engine error. Always carries Cause
// so errors.Is/errors.Unwrap keep working through it.
type Storage struct {
	Cause     error
	Transient bool // true when the engine declares the failure retryable
}

func (e *Storage) Error() string { return fmt.Sprintf("storage: %v", e.Cause) }
func (e *Storage) Kind() Kind    { return KindStorage }
func (e *Storage) Unwrap() error { return e.Cause }

// As is a thin wrapper around errors.As for one of the kinds above,
// letting callers write `if nf, ok := errs.As[*errs.NotFound](err); ok`
// instead of repeating errors.As boilerplate everywhere.
func As[T error](err error) (T, bool) {
	var target T
	ok := errors.As(err, &target)
	return target, ok
}
