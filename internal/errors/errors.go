// Package errors provides error code definitions for docsync.
package errors

import "fmt"

// ErrorCode represents a unique error code surfaced to callers.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"

	// Save path errors
	ErrEmptyContent       ErrorCode = "EMPTY_CONTENT"
	ErrPersistenceFailure ErrorCode = "PERSISTENCE_FAILURE"
	ErrSaveInProgress     ErrorCode = "SAVE_IN_PROGRESS"

	// Session errors
	ErrSessionAlreadyOpen ErrorCode = "SESSION_ALREADY_OPEN"
	ErrSessionClosed      ErrorCode = "SESSION_CLOSED"

	// Channel errors
	ErrChannelUnavailable ErrorCode = "CHANNEL_UNAVAILABLE"

	// Collaborator errors
	ErrProfileLookupFailed ErrorCode = "PROFILE_LOOKUP_FAILED"
	ErrDocumentNotFound    ErrorCode = "DOCUMENT_NOT_FOUND"
	ErrDatabase            ErrorCode = "DATABASE_ERROR"
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

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the error code of err, or ErrInternal if err carries none.
func CodeOf(err error) ErrorCode {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return ErrInternal
}
