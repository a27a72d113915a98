// Package apperrors implements the gateway's error taxonomy: every failure
// path is tagged with one of a small set of Kinds so callers can branch on
// policy (skip-and-continue, fatal, fall-through-to-insert) without string
// matching.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind discriminates the error-handling policy a failure falls under.
type Kind string

const (
	KindConfigMissing       Kind = "CONFIG_MISSING"
	KindNormalize           Kind = "NORMALIZE"
	KindReadFailure         Kind = "READ_FAILURE"
	KindSegmentationRefused Kind = "SEGMENTATION_REFUSED"
	KindDB                  Kind = "DB"
	KindChangeStream        Kind = "CHANGE_STREAM"
	KindCancelled           Kind = "CANCELLED"
)

// Error is the gateway's application error type: a Kind, a human message,
// and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error of the given Kind.
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Wrap is a small convenience for the common "tag and continue" shape.
func Wrap(kind Kind, message string, err error) error {
	if err == nil {
		return nil
	}
	return New(kind, message, err)
}
