package common

import (
	"errors"
	"fmt"
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
)

// Pipeline errors. Content errors end an attempt as failed; transient errors
// are recovered by fallback or retry.
var (
	ErrUnsupportedType    = errors.New("unsupported file type")
	ErrUnreadableDocument = errors.New("unreadable or corrupt document")
	ErrUpload             = errors.New("object storage upload failed")
	ErrRelocate           = errors.New("file relocation failed")
	ErrBrokerUnavailable  = errors.New("message broker unavailable")
	ErrEmpty              = errors.New("queue empty")
	ErrStaleResult        = errors.New("result superseded by a newer attempt")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Diagnostic renders err as the human-readable text stored on a failed job.
// AppError codes are dropped so internal identifiers do not leak to users.
func Diagnostic(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		if ae.Cause != nil {
			return fmt.Sprintf("%s: %v", ae.Message, ae.Cause)
		}
		return ae.Message
	}
	return err.Error()
}
