// Package errs defines the error taxonomy shared by the simulation, the host and the API.
package errs

import (
	"errors"
	"fmt"
)

type Type string

const (
	// The economy reports unaffordable actions as a false result, not an error.
	TypeInsufficientResources Type = "insufficient_resources"
	TypeInvalidTransition     Type = "invalid_transition"
	TypeDeserialization       Type = "deserialization"
	TypeNotFound              Type = "not_found"
	TypeValidation            Type = "validation"
	TypeLocked                Type = "locked"
	TypeInternal              Type = "internal"
)

type AppError struct {
	Type    Type
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// InvalidTransition reports a research task moved from a partition it is not in.
func InvalidTransition(id, from, to string) error {
	return &AppError{
		Type:    TypeInvalidTransition,
		Message: fmt.Sprintf("task %s cannot move from %s to %s", id, from, to),
	}
}

func Deserialization(message string, err error) error {
	return &AppError{Type: TypeDeserialization, Message: message, Err: err}
}

func NotFoundf(format string, args ...any) error {
	return &AppError{Type: TypeNotFound, Message: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) error {
	return &AppError{Type: TypeValidation, Message: fmt.Sprintf(format, args...)}
}

// Locked reports a feature whose unlock flag has not been set yet.
func Locked(flag string) error {
	return &AppError{Type: TypeLocked, Message: fmt.Sprintf("%s is locked", flag)}
}

func WrapInternal(message string, err error) error {
	return &AppError{Type: TypeInternal, Message: message, Err: err}
}

// GetType returns the taxonomy type of err, or TypeInternal for foreign errors.
func GetType(err error) Type {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return TypeInternal
}

func Is(err error, t Type) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == t
}
