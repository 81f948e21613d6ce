package tools

import (
	"errors"
	"fmt"
	"time"
)

// Tool error taxonomy. Handlers return these (wrapped); the registry maps
// anything else to ErrInternal.
var (
	// ErrInvalidInput means the input violates the tool's schema or
	// semantics. Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnknownTool is returned when dispatching a name that is not
	// registered or not currently available.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrRateLimited means an external service refused the call; retry after
	// the suggested delay.
	ErrRateLimited = errors.New("rate limited")

	// ErrExternalFailure means a dependency (network, API, subprocess)
	// failed. Retryable once.
	ErrExternalFailure = errors.New("external failure")

	// ErrInternal covers everything else, including recovered panics.
	ErrInternal = errors.New("internal tool error")
)

// Registration errors.
var (
	ErrDuplicateTool = errors.New("tool already registered")
	ErrToolNameEmpty = errors.New("tool name cannot be empty")
	ErrHandlerNil    = errors.New("tool handler cannot be nil")
)

// RateLimitError carries the suggested retry delay alongside ErrRateLimited.
type RateLimitError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s, retry after %s", e.Service, e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// ErrorKind classifies a dispatch failure for callers that do not want to
// unwrap sentinel errors.
type ErrorKind string

const (
	KindNone            ErrorKind = ""
	KindInvalidInput    ErrorKind = "invalid_input"
	KindUnknownTool     ErrorKind = "unknown_tool"
	KindRateLimited     ErrorKind = "rate_limited"
	KindExternalFailure ErrorKind = "external_failure"
	KindInternal        ErrorKind = "internal"
)

// KindOf maps an error to its taxonomy kind. Unrecognized errors are
// internal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrUnknownTool):
		return KindUnknownTool
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrExternalFailure):
		return KindExternalFailure
	default:
		return KindInternal
	}
}
