package types

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies errors that surface past a component boundary
type ErrorKind string

const (
	KindStorage         ErrorKind = "storage_error"
	KindStorageBusy     ErrorKind = "storage_busy"
	KindProjectNotFound ErrorKind = "project_not_found"
	KindInvalidRequest  ErrorKind = "invalid_request"
	KindUnknownTool     ErrorKind = "unknown_tool"
	KindCancelled       ErrorKind = "cancelled"
	KindInternal        ErrorKind = "internal_error"
)

// Sentinel errors, one per kind. Wrap them with %w to keep the kind.
var (
	ErrStorage         = errors.New("storage error")
	ErrStorageBusy     = errors.New("storage busy")
	ErrProjectNotFound = errors.New("project not found")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrUnknownTool     = errors.New("unknown tool")
)

// Error carries a kind and a human-readable message
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an Error of the given kind
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf reports the kind of err. Unclassified errors are internal errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, ErrStorageBusy):
		return KindStorageBusy
	case errors.Is(err, ErrProjectNotFound):
		return KindProjectNotFound
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrUnknownTool):
		return KindUnknownTool
	case errors.Is(err, ErrStorage):
		return KindStorage
	default:
		return KindInternal
	}
}
