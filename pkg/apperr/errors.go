// Package apperr defines the error kinds shared by the orchestration core.
//
// Every service package returns one of these sentinels (wrapped with
// fmt.Errorf("...: %w", ...) for context) rather than ad-hoc error strings,
// so callers can branch with errors.Is/errors.As the same way regardless of
// which service raised the error.
package apperr

import "errors"

var (
	// ErrNotFound is returned when a lookup by id finds nothing.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned by uniqueness-constrained creates.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidTransition is returned by the lifecycle service when a
	// status change is not legal from the agent's current status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrBudgetExhausted is returned by spawn/consume when the requested
	// tokens would violate used+reserved <= allocated.
	ErrBudgetExhausted = errors.New("budget exhausted")

	// ErrCycleDetected is returned by spawn when the requested parent
	// would close a cycle in the hierarchy forest.
	ErrCycleDetected = errors.New("cycle detected")

	// ErrGraphInvalid is returned when an unvalidated or invalid workflow
	// graph is submitted for execution.
	ErrGraphInvalid = errors.New("workflow graph invalid")

	// ErrDependencyMissing is a narrower case of ErrGraphInvalid: a node
	// template or node lists a dependency id that does not exist in the
	// same graph.
	ErrDependencyMissing = errors.New("workflow dependency missing")

	// ErrInsufficientBudget is returned by template instantiation when the
	// requested budget is below the template's minimum.
	ErrInsufficientBudget = errors.New("insufficient budget for template")

	// ErrExecutorFailed marks an LLM executor invocation that returned a
	// failure outcome; the agent transitions to failed with this wrapped
	// as its error payload.
	ErrExecutorFailed = errors.New("executor failed")

	// ErrWorkspaceUnavailable is returned when the workspace isolator
	// could not provision a workspace for a newly spawned agent.
	ErrWorkspaceUnavailable = errors.New("workspace unavailable")

	// ErrStoreConflict marks a transaction that lost a race (e.g. a
	// serialization failure or an optimistic guard that matched zero
	// rows) and may be retried with backoff.
	ErrStoreConflict = errors.New("store conflict")
)

// ValidationError reports a single invalid input field, mirroring the
// teacher's services.ValidationError so handlers can render field-level
// messages instead of a generic 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// NewValidationError constructs a *ValidationError for the given field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError reports whether err is (or wraps) a *ValidationError.
func IsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
