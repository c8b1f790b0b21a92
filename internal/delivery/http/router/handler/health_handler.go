package handler

import (
	"net/http"

	"authsvc/internal/delivery/http/response"
	"authsvc/internal/domain/service"

	"github.com/labstack/echo/v4"
)

// HealthHandler reports process liveness and cache reachability.
type HealthHandler struct {
	cache service.CacheService
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(cacheSvc service.CacheService) *HealthHandler {
	return &HealthHandler{
		cache: cacheSvc,
	}
}

// Check handles GET /health
func (h *HealthHandler) Check(c echo.Context) error {
	status := map[string]any{
		"status": "ok",
		"cache":  h.cache.Enabled(),
	}

	return response.Success(c, http.StatusOK, status, "")
}
