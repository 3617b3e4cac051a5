// Package errors provides coded application errors for the catalog sync core.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a stable error code that callers (CLI, REST API) can
// match on without parsing messages.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"
	ErrConfig   ErrorCode = "CONFIG_INVALID"

	// Local storage errors
	ErrStorage       ErrorCode = "STORAGE_ERROR"
	ErrSerialization ErrorCode = "SERIALIZATION_ERROR"

	// Offline queue errors
	ErrNoHandler        ErrorCode = "NO_HANDLER"
	ErrReplayInProgress ErrorCode = "REPLAY_IN_PROGRESS"

	// Remote backend errors
	ErrRemoteQuery       ErrorCode = "REMOTE_QUERY_FAILED"
	ErrRemoteMutation    ErrorCode = "REMOTE_MUTATION_FAILED"
	ErrRemoteUnavailable ErrorCode = "REMOTE_UNAVAILABLE"

	// Sync errors
	ErrSyncFailed ErrorCode = "SYNC_FAILED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error, or any error it wraps, carries the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the code of the first AppError in err's chain,
// or ErrInternal when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}
