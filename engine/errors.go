package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every error surfaced by the engine
type ErrorKind int

const (
	// KindInvalidArgument covers null/empty names, non-positive ids, unknown entity kinds
	KindInvalidArgument ErrorKind = iota
	// KindNotFound covers missing principals, resources, verbs, and schemes
	KindNotFound
	// KindConflict covers duplicate names, hierarchy cycles, and grant/deny conflicts
	KindConflict
	// KindUnsupported covers command kinds not registered with the executor
	KindUnsupported
	// KindTransient covers store timeouts, deadlocks, and unique-constraint races
	KindTransient
	// KindTerminal covers transient errors that exhausted retries
	KindTerminal
	// KindIntegrity covers audit-chain gaps and hash mismatches
	KindIntegrity
)

// String returns the string representation of the error kind
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnsupported:
		return "unsupported"
	case KindTransient:
		return "transient"
	case KindTerminal:
		return "terminal"
	case KindIntegrity:
		return "integrity"
	default:
		return "unknown"
	}
}

// Error is the engine's error type carrying a classification kind and an
// optional remediation hint for conflict errors.
type Error struct {
	Kind ErrorKind
	Msg  string
	Hint string
	Err  error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// InvalidArgumentf creates an invalid-argument error
func InvalidArgumentf(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundf creates a not-found error
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Conflictf creates a conflict error with a remediation hint
func Conflictf(hint, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...), Hint: hint}
}

// Unsupportedf creates an unsupported-command error
func Unsupportedf(format string, args ...any) *Error {
	return &Error{Kind: KindUnsupported, Msg: fmt.Sprintf(format, args...)}
}

// Transientf creates a transient error wrapping an underlying cause
func Transientf(err error, format string, args ...any) *Error {
	return &Error{Kind: KindTransient, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Terminalf creates a terminal error wrapping the last transient failure
func Terminalf(err error, format string, args ...any) *Error {
	return &Error{Kind: KindTerminal, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Integrityf creates an integrity error
func Integrityf(format string, args ...any) *Error {
	return &Error{Kind: KindIntegrity, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the classification of an error, or KindTransient for
// unclassified errors so the retry policy gets a chance to recover.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// IsKind reports whether the error carries the given classification
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
