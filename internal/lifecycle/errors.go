package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorKind int

const (
	ErrUnauthenticated ErrorKind = iota
	ErrNotFoundOrForbidden
	ErrInvalidRequest
	ErrInvalidState
	ErrAlreadyStarted
	ErrNoWorkToDo
	ErrInternal
)

// Error is the controller's error type. Every precondition failure maps to
// a distinct kind so callers can react without string matching.
type Error struct {
	Kind    ErrorKind
	Message string
	Context map[string]any
	Cause   error
}

func NewError(kind ErrorKind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(kind ErrorKind, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Kind.String(), e.Message))

	if len(e.Context) > 0 {
		var ctxParts []string
		for k, v := range e.Context {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// Retryable reports whether the caller may retry with backoff. Only
// unexpected dependency failures qualify; every precondition failure is
// deterministic and retrying it changes nothing.
func (e *Error) Retryable() bool {
	return e.Kind == ErrInternal
}

func (k ErrorKind) String() string {
	switch k {
	case ErrUnauthenticated:
		return "Unauthenticated"
	case ErrNotFoundOrForbidden:
		return "NotFoundOrForbidden"
	case ErrInvalidRequest:
		return "InvalidRequest"
	case ErrInvalidState:
		return "InvalidState"
	case ErrAlreadyStarted:
		return "AlreadyStarted"
	case ErrNoWorkToDo:
		return "NoWorkToDo"
	case ErrInternal:
		return "Internal"
	default:
		return "Internal"
	}
}

func IsErrorKind(err error, kind ErrorKind) bool {
	var ctlErr *Error
	if errors.As(err, &ctlErr) {
		return ctlErr.Kind == kind
	}
	return false
}

func WrapError(err error, kind ErrorKind, message string) *Error {
	return NewErrorWithCause(kind, message, err)
}
