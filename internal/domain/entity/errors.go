package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrResourceExhausted is returned when no browser capacity is
	// available under the non-blocking acquisition policy.
	ErrResourceExhausted = errors.New("no browser capacity available")

	ErrTaskNotFound = errors.New("task not found")

	ErrEmptyInstruction = errors.New("instruction must not be empty")

	// ErrInvalidTransition is returned for lifecycle operations that do
	// not apply to the task's current status.
	ErrInvalidTransition = errors.New("operation not valid for task status")
)

type ProviderErrorKind string

const (
	ProviderUnreachable ProviderErrorKind = "unreachable"
	ProviderTimeout     ProviderErrorKind = "timeout"
	ProviderMalformed   ProviderErrorKind = "malformed"
)

// ProviderError wraps a model backend failure: unreachable endpoint,
// request timeout, or output that does not parse into a schema action.
type ProviderError struct {
	Provider string
	Kind     ProviderErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the failure class is transient. Malformed
// output is handled separately with corrective retries, not backoff.
func (e *ProviderError) Retryable() bool {
	return e.Kind == ProviderUnreachable || e.Kind == ProviderTimeout
}

// ExecutionError wraps a browser action failure.
type ExecutionError struct {
	Action  ActionName
	Timeout bool
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("action %s timed out: %v", e.Action, e.Err)
	}
	return fmt.Sprintf("action %s failed: %v", e.Action, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// UnsupportedActionError marks a schema violation by the model: an action
// name outside the declared set.
type UnsupportedActionError struct {
	Name string
}

func (e *UnsupportedActionError) Error() string {
	return fmt.Sprintf("unsupported action %q", e.Name)
}
