package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeInternal indicates an unexpected internal failure.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout indicates a timeout occurred.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"
	// ErrCodeAuthenticationFailed indicates the identity provider rejected the credentials.
	ErrCodeAuthenticationFailed ErrorCode = "authentication_failed"
	// ErrCodeTokenDecode indicates a token could not be parsed; claims are unavailable.
	ErrCodeTokenDecode ErrorCode = "token_decode"
	// ErrCodeTokenExpired indicates the token's exp claim is in the past.
	ErrCodeTokenExpired ErrorCode = "token_expired"
	// ErrCodeRefreshFailed indicates the session could not be renewed.
	ErrCodeRefreshFailed ErrorCode = "refresh_failed"
	// ErrCodeIntegrityViolation indicates cached permissions disagree with the signed token.
	ErrCodeIntegrityViolation ErrorCode = "integrity_violation"
	// ErrCodeNetwork indicates a transport or non-2xx HTTP failure.
	ErrCodeNetwork ErrorCode = "network"
	// ErrCodeForbidden indicates the principal may not perform the operation.
	ErrCodeForbidden ErrorCode = "forbidden"
)

// AppError represents a structured application error with a code, message, and optional cause.
// It supports error wrapping and unwrapping for use with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message, safe to show to the user
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific field that caused the error (optional, for validation errors)
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates an AppError with the given code and message.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return New(ErrCodeValidation, message)
}

// ValidationField creates a new Validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: message,
		Field:   field,
	}
}

// Internal creates a new Internal error.
func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

// AuthenticationFailed creates an error carrying a user-facing message.
func AuthenticationFailed(message string, cause error) *AppError {
	if message == "" {
		message = "invalid login or password"
	}
	return &AppError{Code: ErrCodeAuthenticationFailed, Message: message, Cause: cause}
}

// RefreshFailed wraps the cause of a failed session renewal.
func RefreshFailed(cause error) *AppError {
	return &AppError{Code: ErrCodeRefreshFailed, Message: "session refresh failed", Cause: cause}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// MessageTemplate describes a lazily formatted error message used with Wrapf.
type MessageTemplate struct {
	format string
	args   []any
}

// Messagef creates a lazily formatted message template for Wrapf.
func Messagef(format string, args ...any) MessageTemplate {
	return MessageTemplate{
		format: format,
		args:   args,
	}
}

func (mt MessageTemplate) String() string {
	if len(mt.args) == 0 {
		return mt.format
	}
	return fmt.Sprintf(mt.format, mt.args...)
}

// WrapTemplate wraps an existing error with an AppError using a preconstructed message template.
func WrapTemplate(err error, code ErrorCode, template MessageTemplate) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: template.String(),
		Cause:   err,
	}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	return WrapTemplate(err, code, Messagef(format, args...))
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool {
	return isCode(err, ErrCodeValidation)
}

// IsInternal checks if an error is an Internal error.
func IsInternal(err error) bool {
	return isCode(err, ErrCodeInternal)
}

// IsTimeout checks if an error is a Timeout error.
func IsTimeout(err error) bool {
	return isCode(err, ErrCodeTimeout)
}

// IsCanceled checks if an error is a Canceled error.
func IsCanceled(err error) bool {
	return isCode(err, ErrCodeCanceled)
}

// IsAuthenticationFailed checks if an error is an AuthenticationFailed error.
func IsAuthenticationFailed(err error) bool {
	return isCode(err, ErrCodeAuthenticationFailed)
}

// IsTokenDecode checks if an error is a TokenDecode error.
func IsTokenDecode(err error) bool {
	return isCode(err, ErrCodeTokenDecode)
}

// IsTokenExpired checks if an error is a TokenExpired error.
func IsTokenExpired(err error) bool {
	return isCode(err, ErrCodeTokenExpired)
}

// IsRefreshFailed checks if an error is a RefreshFailed error.
func IsRefreshFailed(err error) bool {
	return isCode(err, ErrCodeRefreshFailed)
}

// IsIntegrityViolation checks if an error is an IntegrityViolation error.
func IsIntegrityViolation(err error) bool {
	return isCode(err, ErrCodeIntegrityViolation)
}

// IsNetwork checks if an error is a Network error.
func IsNetwork(err error) bool {
	return isCode(err, ErrCodeNetwork)
}

// IsForbidden checks if an error is a Forbidden error.
func IsForbidden(err error) bool {
	return isCode(err, ErrCodeForbidden)
}

// GetCode returns the outermost ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field from an error, or empty string if not an AppError or no field set.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}

// UserMessage returns the message of the outermost AppError, or fallback.
func UserMessage(err error, fallback string) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return fallback
}
