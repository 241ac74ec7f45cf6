// Package errs defines the error taxonomy shared by every contexthub
// component. Components never return bare fmt.Errorf strings; they wrap
// the underlying cause in a *Error carrying one of the Kinds below so
// callers (and, eventually, an HTTP layer outside this core) can decide
// how to present the failure without parsing messages.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an Error. It is not an exhaustive status code, just
// enough for callers to branch on (see spec §7's status-class guidance).
type Kind string

const (
	NotFound          Kind = "not_found"
	InvariantViolated Kind = "invariant_violated"
	Permission        Kind = "permission"
	NoResolver        Kind = "no_resolver"
	ResolveFailed     Kind = "resolve_failed"
	IO                Kind = "io"
	Serialization     Kind = "serialization"
	Unavailable       Kind = "unavailable"
)

// Error is the typed error every component-level API returns.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "store.move_item"
	Message string
	Err     error // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Message != "" {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with no message beyond the kind.
func New(op string, kind Kind) *Error {
	return &Error{Op: op, Kind: kind}
}

// Wrap builds an Error around an existing cause.
func Wrap(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Wrapf builds an Error around a cause with a formatted message.
func Wrapf(op string, kind Kind, err error, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Err: err, Message: fmt.Sprintf(format, args...)}
}

// Msg builds an Error with a message but no underlying cause.
func Msg(op string, kind Kind, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
