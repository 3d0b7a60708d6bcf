package errx

import (
	"errors"
	"fmt"
)

// Kind classifies an AppError so callers can decide whether to retry,
// report back to the model or surface the failure to the user.
type Kind string

const (
	KindInput              Kind = "invalid_input"
	KindNotFound           Kind = "not_found"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindProtocol           Kind = "protocol_error"
	KindInternal           Kind = "internal"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes a missing Redis key.
	RedisNotFoundMessage = "redis key not found"
)

// AppError wraps an underlying error with a kind and a safe message.
type AppError struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether the target matches the underlying error, or is an
// AppError of the same kind.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if errors.As(target, &t) && t.Err == nil {
		return t.Kind == e.Kind
	}
	return errors.Is(e.Err, target)
}

// New creates a new AppError with the provided information.
func New(err error, kind Kind, message string) *AppError {
	return &AppError{
		Err:     err,
		Kind:    kind,
		Message: message,
	}
}

// Input reports bad arguments supplied by a caller or by the model.
func Input(format string, args ...any) *AppError {
	return New(nil, KindInput, fmt.Sprintf(format, args...))
}

// NotFound reports a lookup that found nothing.
func NotFound(format string, args ...any) *AppError {
	return New(nil, KindNotFound, fmt.Sprintf(format, args...))
}

// Backend wraps a failure of an external service (model, embeddings, storage).
func Backend(err error, message string) error {
	if err == nil {
		return nil
	}
	return New(err, KindBackendUnavailable, message)
}

// Protocol wraps a malformed payload, typically tool-call arguments.
func Protocol(err error, message string) error {
	if err == nil {
		return nil
	}
	return New(err, KindProtocol, message)
}

// Sentinels usable with errors.Is.
var (
	ErrInput              = &AppError{Kind: KindInput, Message: string(KindInput)}
	ErrNotFound           = &AppError{Kind: KindNotFound, Message: string(KindNotFound)}
	ErrBackendUnavailable = &AppError{Kind: KindBackendUnavailable, Message: string(KindBackendUnavailable)}
	ErrProtocol           = &AppError{Kind: KindProtocol, Message: string(KindProtocol)}
)

// KindOf returns the kind of the first AppError in the chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsRetryable reports whether the failure came from an unavailable backend.
func IsRetryable(err error) bool {
	return KindOf(err) == KindBackendUnavailable
}
