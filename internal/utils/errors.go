package utils

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across components. Match them with errors.Is.
var (
	// ErrInsufficientData reports a history shorter than the minimum window. Not retried.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrUnknownEntity reports an id that does not resolve to a check, policy, threat, plan or task.
	ErrUnknownEntity = errors.New("unknown entity")
	// ErrInvalidTransition reports a lifecycle change the entity does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrAlreadyExists reports a duplicate registration.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidArgument reports malformed caller input.
	ErrInvalidArgument = errors.New("invalid argument")
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// NotFound builds an AppError wrapping ErrUnknownEntity for the given entity kind and id.
func NotFound(op, kind, id string) error {
	return &AppError{Op: op, Msg: fmt.Sprintf("%s %q", kind, id), Err: ErrUnknownEntity}
}
