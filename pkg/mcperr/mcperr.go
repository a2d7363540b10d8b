// Package mcperr defines the closed set of error kinds the runtime uses to
// classify failures, independent of the JSON-RPC wire codes in pkg/protocol.
package mcperr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds enumerated in the runtime's error
// handling design. It is deliberately a small closed enum rather than a
// free-form string so callers can switch on it exhaustively.
type Kind int

const (
	KindUnknown Kind = iota
	KindProtocol
	KindInvalidParams
	KindMethodNotFound
	KindToolNotFound
	KindResourceNotFound
	KindPromptNotFound
	KindValidation
	KindTransport
	KindHTTP
	KindConnection
	KindTimeout
	KindAuth
	KindStateMismatch
	KindSerialization
	KindIO
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindInvalidParams:
		return "invalid_params"
	case KindMethodNotFound:
		return "method_not_found"
	case KindToolNotFound:
		return "tool_not_found"
	case KindResourceNotFound:
		return "resource_not_found"
	case KindPromptNotFound:
		return "prompt_not_found"
	case KindValidation:
		return "validation"
	case KindTransport:
		return "transport"
	case KindHTTP:
		return "http"
	case KindConnection:
		return "connection"
	case KindTimeout:
		return "timeout"
	case KindAuth:
		return "auth"
	case KindStateMismatch:
		return "state_mismatch"
	case KindSerialization:
		return "serialization"
	case KindIO:
		return "io"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a classified runtime error. It wraps an optional underlying
// cause and carries a human-readable message, per spec.md §7's "every
// error carries a human-readable message" policy.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds a classified error with no underlying cause.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing error, preserving it as
// the cause so errors.Is/errors.As still reach the original.
func Wrap(kind Kind, cause error, message string) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is classified with the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of a classified error, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Recoverable reports whether the session reconnect loop should retry on
// this error: connection, timeout and transport (send/receive failure)
// errors are retryable.
func Recoverable(err error) bool {
	k := KindOf(err)
	return k == KindConnection || k == KindTimeout || k == KindTransport
}
