package middleware

import (
	"log/slog"
	"net/http"

	deliverycontext "authsvc/internal/delivery/context"
	"authsvc/internal/delivery/http/response"
	domainerrors "authsvc/internal/domain/errors"
	"authsvc/internal/errors"

	"github.com/labstack/echo/v4"
)

// ErrorMiddleware converts errors returned by handlers into the unified
// response envelope. Unknown errors are logged with their stack and
// masked as 500 so internals never leak to clients.
type ErrorMiddleware struct {
	logger *slog.Logger
}

// NewErrorMiddleware creates a new error handling middleware
func NewErrorMiddleware(logger *slog.Logger) *ErrorMiddleware {
	return &ErrorMiddleware{
		logger: logger,
	}
}

// Handle processes errors returned by downstream handlers
func (m *ErrorMiddleware) Handle(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		if err == nil {
			return nil
		}

		if c.Response().Committed {
			return nil
		}

		return m.writeError(c, err)
	}
}

// HandleHTTPError is installed as echo's HTTPErrorHandler so errors raised
// outside the middleware chain (routing, body limit) use the same envelope.
func (m *ErrorMiddleware) HandleHTTPError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	if writeErr := m.writeError(c, err); writeErr != nil {
		m.logger.Error("failed to write error response",
			slog.Any("error", writeErr),
			slog.String("request_id", deliverycontext.GetRequestID(c)),
		)
	}
}

func (m *ErrorMiddleware) writeError(c echo.Context, err error) error {
	// Application errors carry their own status and business code.
	var appErr domainerrors.AppError
	if errors.As(err, &appErr) {
		if appErr.HTTPCode() >= http.StatusInternalServerError {
			m.logError(c, err)
		}

		return response.Error(c, appErr.HTTPCode(), appErr.ErrorCode(), appErr.Message(), appErr.Details())
	}

	// Echo's own errors (404 route, 405 method, 413 body limit).
	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		message, _ := echoErr.Message.(string)

		return response.Error(c, echoErr.Code, http.StatusText(echoErr.Code), message, "")
	}

	m.logError(c, err)

	return response.Error(c,
		domainerrors.ErrInternalError.HTTPCode(),
		domainerrors.ErrInternalError.ErrorCode(),
		domainerrors.ErrInternalError.Message(),
		"",
	)
}

func (m *ErrorMiddleware) logError(c echo.Context, err error) {
	m.logger.Error("request failed",
		slog.Any("error", err),
		slog.String("request_id", deliverycontext.GetRequestID(c)),
		slog.String("method", c.Request().Method),
		slog.String("uri", c.Request().URL.Path),
	)
}
