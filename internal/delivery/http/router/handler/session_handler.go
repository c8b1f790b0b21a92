package handler

import (
	"net/http"
	"time"

	"authsvc/internal/delivery/http/middleware"
	"authsvc/internal/delivery/http/response"
	"authsvc/internal/domain/entity"
	domainerrors "authsvc/internal/domain/errors"
	"authsvc/internal/usecase"

	"github.com/labstack/echo/v4"
)

// SessionHandler exposes session listing and bulk revocation for the caller.
type SessionHandler struct {
	sessionUsecase usecase.SessionUsecase
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessionUsecase usecase.SessionUsecase) *SessionHandler {
	return &SessionHandler{
		sessionUsecase: sessionUsecase,
	}
}

// sessionView is the wire representation of an active session.
type sessionView struct {
	ID        string    `json:"id"`
	IPAddress string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func newSessionViews(sessions []*entity.Session) []sessionView {
	views := make([]sessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, sessionView{
			ID:        session.ID.String(),
			IPAddress: session.IPAddress,
			UserAgent: session.UserAgent,
			CreatedAt: session.CreatedAt,
			ExpiresAt: session.ExpiresAt,
		})
	}

	return views
}

// Sessions handles GET /me/sessions
func (h *SessionHandler) Sessions(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return domainerrors.ErrUnauthorized
	}

	sessions, err := h.sessionUsecase.ActiveSessions(c.Request().Context(), userID)
	if err != nil {
		return err
	}

	return response.Success(c, http.StatusOK, newSessionViews(sessions), "")
}

// RevokeAllSessions handles POST /me/sessions/revoke-all
func (h *SessionHandler) RevokeAllSessions(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return domainerrors.ErrUnauthorized
	}

	revoked, err := h.sessionUsecase.RevokeAllSessions(c.Request().Context(), userID)
	if err != nil {
		return err
	}

	return response.Success(c, http.StatusOK, map[string]int64{"revoked": revoked}, "Sessions revoked")
}
