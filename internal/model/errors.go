package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a generation failure.
type ErrorKind string

const (
	ErrKindConfiguration ErrorKind = "configuration"
	ErrKindSerialization ErrorKind = "serialization"
	ErrKindRequest       ErrorKind = "request"
	ErrKindProvider      ErrorKind = "provider"
	ErrKindTaskFailed    ErrorKind = "task_failed"
	ErrKindTimeout       ErrorKind = "timeout"
	ErrKindEmptyContent  ErrorKind = "empty_content"
	ErrKindPrompt        ErrorKind = "prompt"
	ErrKindDownload      ErrorKind = "download"
	ErrKindStorage       ErrorKind = "storage"
	ErrKindFeaturedImage ErrorKind = "featured_image"
	ErrKindNotFound      ErrorKind = "not_found"
	ErrKindConflict      ErrorKind = "conflict"
	ErrKindInternal      ErrorKind = "internal"
)

// GenerationError is the error type returned across the generation pipeline.
// Code carries the provider error code for ErrKindProvider.
type GenerationError struct {
	Kind    ErrorKind
	Code    int
	Message string
	Err     error
}

func (e *GenerationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *GenerationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError builds a GenerationError of the given kind.
func NewError(kind ErrorKind, message string, err error) *GenerationError {
	return &GenerationError{Kind: kind, Message: message, Err: err}
}

// NewProviderError builds a provider error with its numeric code.
func NewProviderError(code int, message string) *GenerationError {
	return &GenerationError{Kind: ErrKindProvider, Code: code, Message: message}
}

// KindOf returns the kind of err, or ErrKindInternal when err is not a
// GenerationError.
func KindOf(err error) ErrorKind {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ErrKindInternal
}

// IsRetryable reports whether err is a transient transport failure.
func IsRetryable(err error) bool {
	return KindOf(err) == ErrKindRequest
}

var ErrInvalidTransition = errors.New("job is already in a terminal state")

// ErrJobSuperseded is returned by a job store when a write would overwrite a
// finished job or a job for another task.
var ErrJobSuperseded = errors.New("job was superseded or already finished")
