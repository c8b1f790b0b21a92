// Package router contains routing and server setup for the HTTP delivery.
package router

import (
	"authsvc/config"
	"authsvc/internal/delivery/http/middleware"
	"authsvc/internal/delivery/http/router/handler"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

type RouterParams struct {
	fx.In

	Config              *config.Config
	AuthHandler         *handler.AuthHandler
	SessionHandler      *handler.SessionHandler
	HealthHandler       *handler.HealthHandler
	AuthMiddleware      *middleware.AuthMiddleware
	RateLimitMiddleware *middleware.RateLimitMiddleware
}

// router holds all the handlers that need to be registered.
type router struct {
	cfg            *config.Config
	authHandler    *handler.AuthHandler
	sessionHandler *handler.SessionHandler
	healthHandler  *handler.HealthHandler
	authMiddleware *middleware.AuthMiddleware
	rateLimit      *middleware.RateLimitMiddleware
}

// NewRouter is the constructor for the Router.
// Fx will inject the required handlers here.
func NewRouter(params RouterParams) *router {
	return &router{
		cfg:            params.Config,
		authHandler:    params.AuthHandler,
		sessionHandler: params.SessionHandler,
		healthHandler:  params.HealthHandler,
		authMiddleware: params.AuthMiddleware,
		rateLimit:      params.RateLimitMiddleware,
	}
}

// RegisterRoutes sets up all the API routes for the application.
func (r *router) RegisterRoutes(e *echo.Echo) {
	// Health check endpoint
	e.GET("/health", r.healthHandler.Check)

	authLimit := r.rateLimit.Limit("auth", r.cfg.RateLimit.Auth)
	otpLimit := r.rateLimit.Limit("otp", r.cfg.RateLimit.OTP)

	authGroup := e.Group("/api/v1/auth")
	{
		// Phone OTP flow. The IP-based limiter sits in front of the
		// per-phone quota enforced inside the use case.
		authGroup.POST("/phone/send-otp", r.authHandler.SendOTP, otpLimit)
		authGroup.POST("/phone/resend-otp", r.authHandler.ResendOTP, otpLimit)
		authGroup.POST("/phone/verify", r.authHandler.VerifyOTP, authLimit)

		// OAuth flow
		authGroup.GET("/oauth/google", r.authHandler.GoogleAuth)
		authGroup.POST("/oauth/callback", r.authHandler.OAuthCallback, authLimit)

		// Token rotation
		authGroup.POST("/refresh", r.authHandler.Refresh, authLimit)
	}

	// Routes that require a valid access token
	meGroup := authGroup.Group("")
	meGroup.Use(r.authMiddleware.Authenticate)
	{
		meGroup.GET("/me", r.authHandler.Me)
		meGroup.POST("/logout", r.authHandler.Logout)
		meGroup.GET("/me/sessions", r.sessionHandler.Sessions)
		meGroup.POST("/me/sessions/revoke-all", r.sessionHandler.RevokeAllSessions)
	}
}
