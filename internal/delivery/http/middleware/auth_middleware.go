package middleware

import (
	"strings"
	"time"

	"authsvc/internal/domain/entity"
	domainerrors "authsvc/internal/domain/errors"
	"authsvc/internal/domain/service"
	"authsvc/internal/errors"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Context keys under which the middleware stores the authenticated identity.
const (
	ContextKeyUserID      = "userID"
	ContextKeyClaims      = "claims"
	ContextKeyAccessToken = "accessToken"
)

// AuthMiddleware verifies access tokens on protected routes.
//
// Verification order matters: the blacklist is consulted before the
// decoded-claims cache, so a logged-out token is rejected even while its
// cached claims are still live.
type AuthMiddleware struct {
	tokenService service.TokenService
	registry     service.TokenRegistry
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokenService service.TokenService, registry service.TokenRegistry) *AuthMiddleware {
	return &AuthMiddleware{
		tokenService: tokenService,
		registry:     registry,
	}
}

// Authenticate validates the Bearer token and stores the caller's identity on the context
func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tokenString, err := extractBearerToken(c)
		if err != nil {
			return err
		}

		ctx := c.Request().Context()

		if m.registry.IsBlacklisted(ctx, tokenString) {
			return domainerrors.ErrTokenRevoked
		}

		claims, err := m.resolveClaims(c, tokenString)
		if err != nil {
			return err
		}

		userID, err := claims.UserID()
		if err != nil {
			return domainerrors.ErrTokenInvalid
		}

		c.Set(ContextKeyUserID, userID)
		c.Set(ContextKeyClaims, claims)
		c.Set(ContextKeyAccessToken, tokenString)

		return next(c)
	}
}

// resolveClaims returns the token's claims from the decode cache when
// available, falling back to full signature verification on a miss.
func (m *AuthMiddleware) resolveClaims(c echo.Context, tokenString string) (*service.AccessClaims, error) {
	ctx := c.Request().Context()

	if claims, ok := m.registry.DecodedClaims(ctx, tokenString); ok {
		// Cached entries may outlive the token by a small margin, so
		// re-check expiry before trusting them.
		if claims.Expired(time.Now()) {
			m.registry.InvalidateDecoded(ctx, tokenString)

			return nil, domainerrors.ErrTokenExpired
		}

		return claims, nil
	}

	claims, err := m.tokenService.VerifyAccessToken(tokenString)
	if err != nil {
		if errors.Is(err, service.ErrTokenExpired) {
			return nil, domainerrors.ErrTokenExpired
		}

		return nil, domainerrors.ErrTokenInvalid
	}

	m.registry.CacheDecoded(ctx, tokenString, claims)

	return claims, nil
}

// RequireRole rejects callers whose role does not reach the required rank.
// It must run after Authenticate.
func (m *AuthMiddleware) RequireRole(required entity.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, ok := c.Get(ContextKeyClaims).(*service.AccessClaims)
			if !ok {
				return domainerrors.ErrUnauthorized
			}

			if !entity.Role(claims.Role).AtLeast(required) {
				return domainerrors.ErrForbidden
			}

			return next(c)
		}
	}
}

// extractBearerToken pulls the token out of the Authorization header.
func extractBearerToken(c echo.Context) (string, error) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if header == "" {
		return "", domainerrors.ErrUnauthorized
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", domainerrors.ErrTokenInvalid
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", domainerrors.ErrTokenInvalid
	}

	return token, nil
}

// UserIDFromContext returns the authenticated user's ID set by Authenticate.
func UserIDFromContext(c echo.Context) (uuid.UUID, bool) {
	userID, ok := c.Get(ContextKeyUserID).(uuid.UUID)

	return userID, ok
}

// AccessTokenFromContext returns the raw bearer token set by Authenticate.
func AccessTokenFromContext(c echo.Context) (string, bool) {
	token, ok := c.Get(ContextKeyAccessToken).(string)

	return token, ok
}
