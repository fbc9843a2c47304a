package models

import (
	"errors"
	"fmt"
)

// ErrCacheMiss is returned by the delta cache when no entry exists
// for a customer, fresh or stale.
var ErrCacheMiss = errors.New("delta cache: entry not found")

// ValidationError reports client input rejected before any state was
// mutated. It always maps to a synchronous 400 response.
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// UpstreamError reports a degraded but survivable dependency failure,
// such as the ranking oracle timing out. Callers log it and continue
// with reduced results instead of failing the request.
type UpstreamError struct {
	Upstream string
	Err      error
}

func NewUpstreamError(upstream string, err error) *UpstreamError {
	return &UpstreamError{Upstream: upstream, Err: err}
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s unavailable: %v", e.Upstream, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// FatalDependencyError reports a dependency without which a request
// cannot produce any meaningful result, such as the catalog store
// being down. It maps to a 5xx response.
type FatalDependencyError struct {
	Dependency string
	Err        error
}

func NewFatalDependencyError(dependency string, err error) *FatalDependencyError {
	return &FatalDependencyError{Dependency: dependency, Err: err}
}

func (e *FatalDependencyError) Error() string {
	return fmt.Sprintf("dependency %s failed: %v", e.Dependency, e.Err)
}

func (e *FatalDependencyError) Unwrap() error { return e.Err }

// InvariantViolation reports internal state that should be impossible,
// such as a cached bucket exceeding its size cap. Consumers treat the
// offending entry as poisoned and force a rebuild.
type InvariantViolation struct {
	Invariant string
	Detail    string
}

func NewInvariantViolation(invariant, detail string) *InvariantViolation {
	return &InvariantViolation{Invariant: invariant, Detail: detail}
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant %s violated: %s", e.Invariant, e.Detail)
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
