// Package memerr defines the error kinds shared by the session managers, trackers and stores.
package memerr

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is or the Is* helpers.
var (
	ErrConflict        = errors.New("conflict")
	ErrInvalidState    = errors.New("invalid state")
	ErrNotFound        = errors.New("not found")
	ErrNoActiveSession = errors.New("no active session")
	ErrValidation      = errors.New("validation failed")
	ErrStore           = errors.New("store failure")
)

// Error carries the operation and kind of a failure together with its cause.
type Error struct {
	Op      string // operation name, e.g. "gamesessions.Open"
	Kind    error  // one of the Err* kinds
	Err     error  // underlying cause, may be nil
	Details string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// E builds an *Error. If err already carries a kind it is wrapped unchanged in kind.
func E(op string, kind error, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Errorf builds an *Error with a formatted detail message.
func Errorf(op string, kind error, format string, args ...interface{}) error {
	return &Error{Op: op, Kind: kind, Details: fmt.Sprintf(format, args...)}
}

// Conflict is shorthand for a conflict with details.
func Conflict(op, details string) error { return &Error{Op: op, Kind: ErrConflict, Details: details} }

// InvalidState is shorthand for an illegal transition.
func InvalidState(op, details string) error {
	return &Error{Op: op, Kind: ErrInvalidState, Details: details}
}

// NotFound is shorthand for a missing entity.
func NotFound(op, details string) error { return &Error{Op: op, Kind: ErrNotFound, Details: details} }

// NoActiveSession is shorthand for a write without an open parent session.
func NoActiveSession(op, details string) error {
	return &Error{Op: op, Kind: ErrNoActiveSession, Details: details}
}

// Validation is shorthand for malformed input.
func Validation(op, details string) error {
	return &Error{Op: op, Kind: ErrValidation, Details: details}
}

// Store wraps a durable-store failure.
func Store(op string, err error) error { return &Error{Op: op, Kind: ErrStore, Err: err} }

func IsConflict(err error) bool        { return errors.Is(err, ErrConflict) }
func IsInvalidState(err error) bool    { return errors.Is(err, ErrInvalidState) }
func IsNotFound(err error) bool        { return errors.Is(err, ErrNotFound) }
func IsNoActiveSession(err error) bool { return errors.Is(err, ErrNoActiveSession) }
func IsValidation(err error) bool      { return errors.Is(err, ErrValidation) }
func IsStore(err error) bool           { return errors.Is(err, ErrStore) }

// Retryable reports whether err may be retried with backoff. Only store failures qualify.
func Retryable(err error) bool {
	if err == nil || IsDropped(err) {
		return false
	}
	return IsStore(err) && !IsConflict(err) && !IsNotFound(err)
}

// KindOf returns the kind carried by err, or nil when it has none.
func KindOf(err error) error {
	for _, k := range []error{ErrConflict, ErrInvalidState, ErrNotFound, ErrNoActiveSession, ErrValidation, ErrStore} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// DroppedError reports a write that was given up on after retries. Payload is the
// rejected input so the caller can replay it.
type DroppedError struct {
	Op       string
	Attempts int
	Payload  interface{}
	Err      error
}

func (e *DroppedError) Error() string {
	return fmt.Sprintf("%s: dropped after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *DroppedError) Unwrap() error { return e.Err }

// IsDropped reports whether err is a *DroppedError.
func IsDropped(err error) bool {
	var d *DroppedError
	return errors.As(err, &d)
}

// AsDropped extracts the *DroppedError from err.
func AsDropped(err error) (*DroppedError, bool) {
	var d *DroppedError
	ok := errors.As(err, &d)
	return d, ok
}
