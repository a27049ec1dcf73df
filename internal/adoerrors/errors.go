// Package adoerrors defines the structured error kinds that cross the Tool
// Dispatcher boundary. Handlers never panic or let a raw error escape;
// instead they return an *Error carrying one of the kinds below, which the
// dispatcher converts into the wire envelope (§7 of the design).
package adoerrors

import (
	"errors"
	"fmt"
)

// Kind enumerates the distinct error shapes the dispatcher recognizes.
type Kind string

const (
	KindValidation          Kind = "ValidationError"
	KindAuthenticationMiss  Kind = "AuthenticationMissing"
	KindHandleNotFound      Kind = "HandleNotFoundOrExpired"
	KindInvalidSelection    Kind = "InvalidSelection"
	KindContextUnavailable  Kind = "ContextUnavailable"
	KindUpstream            Kind = "UpstreamError"
	KindRateLimited         Kind = "RateLimited"
	KindSamplingUnavailable Kind = "SamplingUnavailable"
	KindPartialFailure      Kind = "PartialFailure"
	KindDestructiveConfirm  Kind = "Destructive-Confirmed"
	KindInternal            Kind = "InternalError"
)

// Error is a structured tool failure. Cause links to an underlying error
// (possibly another *Error) so errors.Is/errors.As continue to work across
// wrapping, mirroring the teacher's runtime/agent/toolerrors.ToolError chain.
type Error struct {
	Kind    Kind
	Message string
	// Details carries kind-specific structured context (e.g. the offending
	// index for InvalidSelection, the missing field path for ValidationError).
	Details map[string]any
	Cause   error
}

// New constructs an *Error of the given kind with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf formats message like fmt.Sprintf.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithDetails attaches structured details and returns the same *Error for
// chaining at the call site.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap supports errors.Is/errors.As through the cause chain.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// As reports whether err is (or wraps) an *Error and returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is an *Error, or KindInternal
// otherwise. Used at the dispatcher boundary to categorize arbitrary errors
// returned by handlers that did not construct an *Error directly.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}
