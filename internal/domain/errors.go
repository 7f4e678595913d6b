package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrConflict         = errors.New("conflict")
	ErrSourceNotFound   = errors.New("source not found")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// FieldError is an InvalidArgument naming the offending field and value.
type FieldError struct {
	Field  string
	Value  string
	Reason string
}

func (e *FieldError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrInvalidArgument }

func InvalidArgument(field, value, reason string) error {
	return &FieldError{Field: field, Value: value, Reason: reason}
}

// Required reports a missing required field.
func Required(field string) error {
	return &FieldError{Field: field, Reason: "is required"}
}

// NotFoundf wraps ErrNotFound with a description of what is missing.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConflict)
}

// Unavailable marks err as a store connectivity failure.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
