// Package response defines the envelope every JSON endpoint answers with.
package response

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Response is the envelope shared by success and error answers.
type Response struct {
	Success bool       `json:"success"`
	Code    int        `json:"code"`    // HTTP status code
	Message string     `json:"message"` // User-facing message
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo carries the machine-readable side of an error answer.
type ErrorInfo struct {
	Code    string `json:"code"`    // Business error code, e.g. "TOKEN_EXPIRED"
	Details string `json:"details"` // Optional diagnostic detail
}

// Success writes a success envelope with the given payload.
func Success(c echo.Context, statusCode int, data any, message string) error {
	if message == "" {
		message = "Success"
	}

	return c.JSON(statusCode, Response{
		Success: true,
		Code:    statusCode,
		Message: message,
		Data:    data,
	})
}

// Error writes an error envelope carrying the business error code.
func Error(c echo.Context, statusCode int, errorCode string, message string, details string) error {
	if message == "" {
		message = http.StatusText(statusCode)
	}

	return c.JSON(statusCode, Response{
		Success: false,
		Code:    statusCode,
		Message: message,
		Error: &ErrorInfo{
			Code:    errorCode,
			Details: details,
		},
	})
}

// BadRequest writes a 400 error envelope.
func BadRequest(c echo.Context, errorCode string, message string) error {
	return Error(c, http.StatusBadRequest, errorCode, message, "")
}

// Unauthorized writes a 401 error envelope.
func Unauthorized(c echo.Context, errorCode string, message string) error {
	return Error(c, http.StatusUnauthorized, errorCode, message, "")
}

// Forbidden writes a 403 error envelope.
func Forbidden(c echo.Context, errorCode string, message string) error {
	return Error(c, http.StatusForbidden, errorCode, message, "")
}

// NotFound writes a 404 error envelope.
func NotFound(c echo.Context, errorCode string, message string) error {
	return Error(c, http.StatusNotFound, errorCode, message, "")
}

// Conflict writes a 409 error envelope.
func Conflict(c echo.Context, errorCode string, message string) error {
	return Error(c, http.StatusConflict, errorCode, message, "")
}

// TooManyRequests writes a 429 error envelope.
func TooManyRequests(c echo.Context, errorCode string, message string) error {
	return Error(c, http.StatusTooManyRequests, errorCode, message, "")
}

// InternalServerError writes a 500 error envelope.
func InternalServerError(c echo.Context, errorCode string, message string) error {
	return Error(c, http.StatusInternalServerError, errorCode, message, "")
}
