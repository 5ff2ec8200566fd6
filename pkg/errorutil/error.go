// Package errorutil defines the error kinds reported by the csvguard pipeline.
package errorutil

import (
	"errors"
	"fmt"
)

// Kind identifies the pipeline failure class. Every failed request carries exactly one.
type Kind string

const (
	InvalidFileType        Kind = "InvalidFileType"
	FileTooLarge           Kind = "FileTooLarge"
	EmptyFile              Kind = "EmptyFile"
	MalformedInput         Kind = "MalformedInput"
	TooManyRows            Kind = "TooManyRows"
	TooManyColumns         Kind = "TooManyColumns"
	InsufficientData       Kind = "InsufficientData"
	NoNumericColumns       Kind = "NoNumericColumns"
	ModelTrainingFailed    Kind = "ModelTrainingFailed"
	ExplanationUnsupported Kind = "ExplanationUnsupported"
)

// Class groups kinds the way a transport layer maps them to status codes.
type Class string

const (
	ClassTooLarge Class = "too_large"
	ClassBadInput Class = "bad_input"
	ClassInternal Class = "internal"
)

// Class returns the status class for k.
func (k Kind) Class() Class {
	switch k {
	case FileTooLarge, TooManyRows, TooManyColumns:
		return ClassTooLarge
	case InvalidFileType, EmptyFile, MalformedInput, InsufficientData, NoNumericColumns:
		return ClassBadInput
	default:
		return ClassInternal
	}
}

// Error is a pipeline failure with a kind and a human-readable message.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, errorutil.New(k, "")) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// New creates an Error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain.
// Errors that did not originate in the pipeline report ok=false.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Message returns the user-facing message for err without internal detail.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return "internal error"
}
