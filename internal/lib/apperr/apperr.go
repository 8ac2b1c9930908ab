// Package apperr defines the error taxonomy shared by services and the HTTP/gRPC
// boundary. Services return *Error values (or wrap them); the boundary maps the
// Kind to a status code and shows only the public Message to the caller.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the transport layer.
type Kind int

const (
	// KindInternal is an unexpected failure. Detail is logged, never returned.
	KindInternal Kind = iota
	// KindValidation is malformed or missing input.
	KindValidation
	// KindUnauthenticated covers bad credentials, invalid tokens and locked accounts.
	KindUnauthenticated
	// KindForbidden is an authenticated caller lacking the required role.
	KindForbidden
	// KindConflict is a uniqueness violation (email, license key).
	KindConflict
	// KindNotFound is a missing resource.
	KindNotFound
	// KindExternal is an outage of a collaborator (database, broker, mail).
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindExternal:
		return "external"
	default:
		return "internal"
	}
}

// FieldError describes a single invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is a classified error with a message safe to show to end users.
type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two *Error values by kind and message so sentinel errors
// keep working after being wrapped with a cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

// New returns an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap attaches a cause to a copy of sentinel.
func Wrap(sentinel *Error, cause error) *Error {
	return &Error{
		Kind:    sentinel.Kind,
		Message: sentinel.Message,
		Fields:  sentinel.Fields,
		Err:     cause,
	}
}

// Validation builds a validation error carrying per-field messages.
func Validation(msg string, fields ...FieldError) *Error {
	return &Error{Kind: KindValidation, Message: msg, Fields: fields}
}

// External marks err as a collaborator outage.
func External(msg string, err error) *Error {
	return &Error{Kind: KindExternal, Message: msg, Err: err}
}

// KindOf reports the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
