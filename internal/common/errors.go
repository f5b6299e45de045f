package common

import (
	"errors"
	"fmt"
)

// Error codes surfaced to callers and persisted on failed jobs.
const (
	CodeInvalidInput   = "INVALID_INPUT"
	CodeNotFound       = "NOT_FOUND"
	CodeTransientError = "TRANSIENT_PROCESSING_ERROR"
	CodePermanentError = "PERMANENT_PROCESSING_ERROR"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func InvalidInputError(message string) *AppError {
	return &AppError{Code: CodeInvalidInput, Message: message, Cause: ErrInvalidInput}
}

func InvalidInputErrorf(format string, args ...interface{}) *AppError {
	return InvalidInputError(fmt.Sprintf(format, args...))
}

func NotFoundError(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message, Cause: ErrNotFound}
}

// ErrorCode extracts the taxonomy code from err, or "" when err carries none.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
