package errprocess

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and propagation decisions.
type Kind string

const (
	// KindValidation malformed local input, surfaced before any network call
	KindValidation Kind = "validation"
	// KindNetwork transport-level failure, recoverable via retry/backoff
	KindNetwork Kind = "network"
	// KindAuthorization actor not permitted, fatal for the action
	KindAuthorization Kind = "authorization"
	// KindNotFound referenced row no longer exists, treated as a benign race
	KindNotFound Kind = "not_found"
)

// Error carries a kind alongside the message and an optional cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

// Unwrap exposes the cause to errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Validation create a validation error
func Validation(msg string) error {
	return &Error{Kind: KindValidation, Msg: msg}
}

// Network create a network error wrapping cause
func Network(msg string, cause error) error {
	return &Error{Kind: KindNetwork, Msg: msg, Cause: cause}
}

// Authorization create an authorization error
func Authorization(msg string) error {
	return &Error{Kind: KindAuthorization, Msg: msg}
}

// NotFound create a not-found error
func NotFound(msg string) error {
	return &Error{Kind: KindNotFound, Msg: msg}
}

// KindOf reports the kind of err, or empty when it is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind check err carries the given kind anywhere in its chain
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
