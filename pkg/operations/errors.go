package operations

import "fmt"

// ErrorKind classifies an error surfaced to a caller of the Client API, per
// spec §6/§7.
type ErrorKind string

const (
	// ErrCacheOnlyMiss is returned by a cache-only read that found nothing.
	ErrCacheOnlyMiss ErrorKind = "CacheOnlyMiss"
	// ErrPlanInvalid is returned when a document cannot be compiled into a
	// Plan (unknown fragment spread, malformed operation).
	ErrPlanInvalid ErrorKind = "PlanInvalid"
	// ErrNetwork wraps a transport failure.
	ErrNetwork ErrorKind = "Network"
	// ErrIncomplete names the Incomplete code. No Client operation returns
	// it as an Error: incompleteness is reported through Result.Incomplete
	// alongside the partial data.
	ErrIncomplete ErrorKind = "Incomplete"
	// ErrPolicy marks an invalid cache-policy configuration.
	ErrPolicy ErrorKind = "Policy"
)

// Error is the tagged error value every public Client operation returns
// instead of panicking, per the "error-for-control-flow should be avoided"
// design note (spec §9). The one exception is an unknown cache policy in a
// development environment, which panics with an *Error of kind ErrPolicy
// (see normalizePolicy).
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("operations: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("operations: %s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped transport/planner error to errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

func planError(err error) *Error {
	return &Error{Kind: ErrPlanInvalid, Message: "document could not be planned", Err: err}
}

func networkError(err error) *Error {
	return &Error{Kind: ErrNetwork, Message: "transport request failed", Err: err}
}
