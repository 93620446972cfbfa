// Package remote defines the boundary to the control-plane API: the client
// interfaces every executor talks through and the fixed error taxonomy the
// retry and idempotency logic dispatches on.
package remote

import (
	"errors"
	"fmt"
)

// Code identifies a control-plane failure condition. The set is closed:
// every error surfaced by a client implementation must carry one of these.
type Code string

const (
	// CodeNotFound indicates the addressed resource does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeAlreadyExists indicates a create collided with an existing resource.
	CodeAlreadyExists Code = "ALREADY_EXISTS"

	// CodePermissionDenied indicates the caller lacks the required privilege.
	CodePermissionDenied Code = "PERMISSION_DENIED"

	// CodeInvalidParameter indicates a parameter value the API rejected.
	CodeInvalidParameter Code = "INVALID_PARAMETER"

	// CodeBadRequest indicates a malformed request.
	CodeBadRequest Code = "BAD_REQUEST"

	// CodeUnauthenticated indicates missing or expired credentials.
	CodeUnauthenticated Code = "UNAUTHENTICATED"

	// CodeUnavailable indicates the service is temporarily unavailable.
	CodeUnavailable Code = "UNAVAILABLE"

	// CodeInternal indicates a server-side failure.
	CodeInternal Code = "INTERNAL"

	// CodeResourceExhausted indicates rate limiting or quota exhaustion.
	CodeResourceExhausted Code = "RESOURCE_EXHAUSTED"
)

// Retryable reports whether a call failing with this code may succeed on a
// later attempt. The classification is total: codes outside the retryable
// set are re-raised on first occurrence and never sleep.
func (c Code) Retryable() bool {
	switch c {
	case CodeUnavailable, CodeInternal, CodeResourceExhausted:
		return true
	default:
		return false
	}
}

// Error is a classified control-plane error.
type Error struct {
	// Code is the taxonomy entry for this failure.
	Code Code

	// Resource is the resolved name of the resource involved, if known.
	Resource string

	// Message is the human-readable description from the API.
	Message string

	// Err is the underlying transport error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Resource, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by code so call sites can use errors.Is with sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a classified error.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithResource attaches the resource name to the error.
func (e *Error) WithResource(name string) *Error {
	e.Resource = name
	return e
}

// WithCause attaches the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// CodeOf extracts the taxonomy code from an error chain. Unclassified
// errors report CodeInternal so they are treated as retryable server
// faults rather than silently swallowed.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsNotFound reports whether err is a not-found condition.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// IsAlreadyExists reports whether err is an already-exists condition.
func IsAlreadyExists(err error) bool {
	return CodeOf(err) == CodeAlreadyExists
}

// IsPermissionDenied reports whether err is a permission failure.
// Permission failures always propagate: they are never retried and never
// downgraded to absence.
func IsPermissionDenied(err error) bool {
	return CodeOf(err) == CodePermissionDenied
}

// IsInvalidParameter reports whether err is a parameter or request
// validation failure.
func IsInvalidParameter(err error) bool {
	c := CodeOf(err)
	return c == CodeInvalidParameter || c == CodeBadRequest
}

// IsRetryable reports whether err may be retried with backoff.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code.Retryable()
	}
	return false
}
