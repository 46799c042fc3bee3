package chat

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindForbidden  ErrorKind = "forbidden"
)

// ErrDeliveryUnavailable marks a live push that had nowhere to go. It is
// logged and counted, never returned to callers.
var ErrDeliveryUnavailable = errors.New("delivery unavailable")

// Error is a caller-visible failure. Fields carries per-field validation
// messages when Kind is KindValidation.
type Error struct {
	Kind    ErrorKind
	Message string
	Fields  map[string]string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func validationError(message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

func notFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

// IsKind reports whether err is a chat error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var chatErr *Error
	return errors.As(err, &chatErr) && chatErr.Kind == kind
}
