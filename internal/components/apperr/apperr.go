// Package apperr defines the typed errors that domain components return and
// the HTTP boundary converts to wire responses.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and status mapping.
type Kind int

const (
	// KindUnknown is never produced by constructors; As treats foreign
	// errors as persistence failures.
	KindUnknown Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindUnauthenticated
	KindTransport
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindTransport:
		return "transport"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Error is a classified domain error carrying a symbolic code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code, or by kind when the target has no code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return e.Code == t.Code
	}
	return t.Kind != KindUnknown && e.Kind == t.Kind
}

func newErr(kind Kind, code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Err: err}
}

// Validation reports malformed or missing input.
func Validation(code, msg string) *Error { return newErr(KindValidation, code, msg, nil) }

// Conflict reports a duplicate or a transition the current state forbids.
func Conflict(code, msg string) *Error { return newErr(KindConflict, code, msg, nil) }

// NotFound reports an absent record, or one not visible to the caller.
func NotFound(code, msg string) *Error { return newErr(KindNotFound, code, msg, nil) }

// Unauthenticated reports a scoped operation attempted without a principal.
func Unauthenticated(code, msg string) *Error {
	return newErr(KindUnauthenticated, code, msg, nil)
}

// Transport wraps a peer failure: unreachable, rejecting, or malformed.
func Transport(code, msg string, err error) *Error {
	return newErr(KindTransport, code, msg, err)
}

// Persistence wraps a storage failure. Message stays generic.
func Persistence(code string, err error) *Error {
	return newErr(KindPersistence, code, "storage failure", err)
}

// As extracts the *Error in err's chain. Unclassified errors come back as
// a persistence error so the boundary never echoes their text.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Persistence("INTERNAL_ERROR", err)
}

// KindOf returns the kind of err, or KindUnknown when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the symbolic code of err, or "" when unclassified.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Sentinels usable with errors.Is to test the kind only.
var (
	ErrValidation      = &Error{Kind: KindValidation}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated}
	ErrTransport       = &Error{Kind: KindTransport}
	ErrPersistence     = &Error{Kind: KindPersistence}
)
