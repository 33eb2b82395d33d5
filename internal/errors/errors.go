// Package errors defines the typed failure kinds used across the engine.
// Engine-internal failure paths
// return these values; panics are reserved for programmer errors and are
// recovered at the task boundary.
package errors

import (
	"errors"
	"fmt"
)

// Kind discriminates the coarse error category. Components switch on Kind
// rather than string-matching messages.
type Kind string

const (
	KindConfig          Kind = "config"
	KindTransport        Kind = "transport"
	KindProvider         Kind = "provider"
	KindState            Kind = "state"
	KindTool             Kind = "tool"
	KindTeardownTimeout  Kind = "teardown_timeout"
)

// ProviderSubKind refines KindProvider errors.
type ProviderSubKind string

const (
	ProviderAuth       ProviderSubKind = "auth"
	ProviderRateLimit  ProviderSubKind = "rate_limit"
	ProviderProtocol   ProviderSubKind = "protocol"
	ProviderTimeout    ProviderSubKind = "timeout"
	ProviderDisconnect ProviderSubKind = "disconnect"
)

// ToolSubKind refines KindTool errors.
type ToolSubKind string

const (
	ToolInvalidArgs           ToolSubKind = "invalid_args"
	ToolDestinationNotFound   ToolSubKind = "destination_not_found"
	ToolDestinationUnreachable ToolSubKind = "destination_unreachable"
	ToolTimeout               ToolSubKind = "timeout"
	ToolDeclined              ToolSubKind = "declined"
)

// Error is the single error type satisfying Go's error interface for every
// engine-internal failure path. Kind and SubKind let callers branch on
// category without parsing messages; Unwrap exposes the underlying cause
// for errors.Is/As chains.
type Error struct {
	Kind    Kind
	SubKind string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.SubKind != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s/%s: %s: %v", e.Kind, e.SubKind, e.Message, e.Cause)
		}
		return fmt.Sprintf("%s/%s: %s", e.Kind, e.SubKind, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, &Error{Kind: KindTransport}) style matching on
// Kind (and SubKind when both sides set one).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != "" && t.Kind != e.Kind {
		return false
	}
	if t.SubKind != "" && t.SubKind != e.SubKind {
		return false
	}
	return true
}

func newErr(kind Kind, sub, msg string, cause error) *Error {
	return &Error{Kind: kind, SubKind: sub, Message: msg, Cause: cause}
}

func Config(msg string, cause error) *Error     { return newErr(KindConfig, "", msg, cause) }
func Transport(msg string, cause error) *Error  { return newErr(KindTransport, "", msg, cause) }
func State(msg string, cause error) *Error      { return newErr(KindState, "", msg, cause) }
func TeardownTimeout(msg string, cause error) *Error {
	return newErr(KindTeardownTimeout, "", msg, cause)
}

func Provider(sub ProviderSubKind, msg string, cause error) *Error {
	return newErr(KindProvider, string(sub), msg, cause)
}

func Tool(sub ToolSubKind, msg string, cause error) *Error {
	return newErr(KindTool, string(sub), msg, cause)
}

// KindOf unwraps err (if it is or wraps an *Error) and returns its Kind.
// Returns "" for errors that carry no engine Kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
