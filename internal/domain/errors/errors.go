package errors

import (
	"net/http"

	"authsvc/internal/errors"
)

// AppError defines the interface for application-specific errors
type AppError interface {
	error
	HTTPCode() int     // HTTP status code
	ErrorCode() string // Business error code
	Message() string   // User-friendly error message
	Details() string   // Detailed error information (optional)
}

// BaseError is a basic error structure that implements the AppError interface
type BaseError struct {
	httpCode  int
	errorCode string
	message   string
	details   string
}

// NewBaseError creates a new base error
func NewBaseError(httpCode int, errorCode, message, details string) *BaseError {
	return &BaseError{
		httpCode:  httpCode,
		errorCode: errorCode,
		message:   message,
		details:   details,
	}
}

// Error implements the error interface
func (e *BaseError) Error() string {
	return e.message
}

// WrapMessage wraps the error with additional context message
func (e *BaseError) WrapMessage(message string) error {
	return errors.Wrap(e, message)
}

// HTTPCode returns the HTTP status code
func (e *BaseError) HTTPCode() int {
	return e.httpCode
}

// ErrorCode returns the business error code
func (e *BaseError) ErrorCode() string {
	return e.errorCode
}

// Message returns the user-friendly error message
func (e *BaseError) Message() string {
	return e.message
}

// Details returns detailed error information
func (e *BaseError) Details() string {
	return e.details
}

// WithDetails adds detailed error information
func (e *BaseError) WithDetails(details string) *BaseError {
	return &BaseError{
		httpCode:  e.httpCode,
		errorCode: e.errorCode,
		message:   e.message,
		details:   details,
	}
}

// Is matches errors by business code, so a WithDetails copy still satisfies
// errors.Is against its predefined sentinel.
func (e *BaseError) Is(target error) bool {
	t, ok := target.(*BaseError)

	return ok && e.errorCode == t.errorCode
}

// Predefined error types
var (
	// User-related errors
	ErrUserNotFound = NewBaseError(
		http.StatusNotFound,
		"USER_NOT_FOUND",
		"User not found",
		"",
	)

	ErrUserNotRegistered = NewBaseError(
		http.StatusNotFound,
		"USER_NOT_REGISTERED",
		"User is not registered, please sign up first",
		"",
	)

	ErrUserAlreadyExists = NewBaseError(
		http.StatusConflict,
		"USER_ALREADY_EXISTS",
		"This phone number is already registered",
		"",
	)

	ErrUserCreationFailed = NewBaseError(
		http.StatusInternalServerError,
		"USER_CREATION_FAILED",
		"Failed to create user",
		"",
	)

	ErrUserInactive = NewBaseError(
		http.StatusForbidden,
		"USER_INACTIVE",
		"User account is inactive",
		"",
	)

	ErrUserSuspended = NewBaseError(
		http.StatusForbidden,
		"USER_SUSPENDED",
		"User account is suspended",
		"",
	)

	// OTP-related errors
	ErrOTPSendFailed = NewBaseError(
		http.StatusBadGateway,
		"OTP_SEND_FAILED",
		"Failed to send verification code",
		"",
	)

	ErrOTPInvalid = NewBaseError(
		http.StatusBadRequest,
		"INVALID_OTP",
		"Invalid or expired verification code",
		"",
	)

	ErrOTPResendTooSoon = NewBaseError(
		http.StatusTooManyRequests,
		"OTP_RESEND_TOO_SOON",
		"Please wait before requesting another verification code",
		"",
	)

	ErrOTPRateLimited = NewBaseError(
		http.StatusTooManyRequests,
		"OTP_RATE_LIMITED",
		"Too many verification codes requested, try again later",
		"",
	)

	// Access token errors. Expired and malformed tokens are distinct cases:
	// an expired token is a routine condition the client fixes via refresh,
	// while a malformed or tampered token is rejected outright.
	ErrTokenExpired = NewBaseError(
		http.StatusUnauthorized,
		"TOKEN_EXPIRED",
		"Access token has expired",
		"",
	)

	ErrTokenInvalid = NewBaseError(
		http.StatusForbidden,
		"INVALID_TOKEN",
		"Access token is invalid",
		"",
	)

	ErrTokenRevoked = NewBaseError(
		http.StatusUnauthorized,
		"TOKEN_REVOKED",
		"Access token has been revoked",
		"",
	)

	ErrUnauthorized = NewBaseError(
		http.StatusUnauthorized,
		"UNAUTHORIZED",
		"Authentication required",
		"",
	)

	// OAuth-related errors
	ErrOAuthTokenInvalid = NewBaseError(
		http.StatusBadRequest,
		"OAUTH_TOKEN_INVALID",
		"Invalid provider token",
		"",
	)

	// Refresh token-related errors
	ErrRefreshTokenInvalid = NewBaseError(
		http.StatusBadRequest,
		"INVALID_REFRESH_TOKEN",
		"Invalid refresh token",
		"",
	)

	ErrRefreshTokenExpired = NewBaseError(
		http.StatusUnauthorized,
		"REFRESH_TOKEN_EXPIRED",
		"Refresh token has expired",
		"",
	)

	ErrRefreshTokenRevoked = NewBaseError(
		http.StatusUnauthorized,
		"REFRESH_TOKEN_REVOKED",
		"Refresh token has already been used or revoked",
		"",
	)

	// Rate limiting
	ErrRateLimitExceeded = NewBaseError(
		http.StatusTooManyRequests,
		"RATE_LIMIT_EXCEEDED",
		"Too many requests, please try again later",
		"",
	)

	// Validation-related errors
	ErrValidationFailed = NewBaseError(
		http.StatusBadRequest,
		"VALIDATION_FAILED",
		"Input validation failed",
		"",
	)

	// Transaction-related errors
	ErrTransactionFailed = NewBaseError(
		http.StatusInternalServerError,
		"TRANSACTION_FAILED",
		"Database transaction failed",
		"",
	)

	// General errors
	ErrInternalError = NewBaseError(
		http.StatusInternalServerError,
		"INTERNAL_ERROR",
		"Internal server error",
		"",
	)

	ErrForbidden = NewBaseError(
		http.StatusForbidden,
		"FORBIDDEN",
		"Access denied",
		"",
	)

	ErrNotFound = NewBaseError(
		http.StatusNotFound,
		"NOT_FOUND",
		"Resource not found",
		"",
	)
)

// DatabaseExecuteError represents a database execution error, implementing the AppError interface
type DatabaseExecuteError struct {
	err     error
	details string
}

// NewDatabaseExecuteError creates a database-related error
func NewDatabaseExecuteError(err error, details string) AppError {
	return &DatabaseExecuteError{
		err:     err,
		details: details,
	}
}

// Error implements the error interface
func (e *DatabaseExecuteError) Error() string {
	return errors.Wrap(e.err, "database execution failed").Error()
}

// HTTPCode returns the HTTP status code
func (e *DatabaseExecuteError) HTTPCode() int {
	return http.StatusInternalServerError
}

// ErrorCode returns the business error code
func (e *DatabaseExecuteError) ErrorCode() string {
	return "DATABASE_EXECUTE_FAILED"
}

// Message returns the user-friendly error message
func (e *DatabaseExecuteError) Message() string {
	return "Database execution failed"
}

// Details returns detailed error information
func (e *DatabaseExecuteError) Details() string {
	return e.details
}
