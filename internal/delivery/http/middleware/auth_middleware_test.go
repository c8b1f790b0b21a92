package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"authsvc/config"
	"authsvc/internal/domain/entity"
	domainerrors "authsvc/internal/domain/errors"
	"authsvc/internal/domain/service"
	infraauth "authsvc/internal/infra/auth"
	"authsvc/internal/infra/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type authMiddlewareFixture struct {
	middleware *AuthMiddleware
	tokens     service.TokenService
	registry   service.TokenRegistry
}

func newAuthMiddlewareFixture(t *testing.T) *authMiddlewareFixture {
	t.Helper()

	redisSrv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: redisSrv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cacheSvc := cache.NewWithClient(client, true, slog.New(slog.DiscardHandler))

	cfg := &config.Config{}
	cfg.SecretKey.Access = "test_access_secret_key_very_long_for_testing"
	cfg.Auth = &config.AuthConfig{
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 30 * 24 * time.Hour,
	}

	tokenSvc, err := infraauth.NewJWTService(cfg)
	require.NoError(t, err)
	registry := infraauth.NewTokenRegistry(cacheSvc, tokenSvc)

	return &authMiddlewareFixture{
		middleware: NewAuthMiddleware(tokenSvc, registry),
		tokens:     tokenSvc,
		registry:   registry,
	}
}

func (f *authMiddlewareFixture) mintToken(t *testing.T, userID uuid.UUID, role entity.Role) string {
	t.Helper()

	token, err := f.tokens.GenerateAccessToken(&service.AccessClaims{
		Role: role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
	require.NoError(t, err)

	return token
}

func invokeAuth(t *testing.T, handler echo.HandlerFunc, authorization string) (echo.Context, error) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	if authorization != "" {
		req.Header.Set(echo.HeaderAuthorization, authorization)
	}
	c := e.NewContext(req, httptest.NewRecorder())

	return c, handler(c)
}

func okHandler(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	f := newAuthMiddlewareFixture(t)
	userID := uuid.New()
	token := f.mintToken(t, userID, entity.RoleRider)

	c, err := invokeAuth(t, f.middleware.Authenticate(okHandler), "Bearer "+token)
	require.NoError(t, err)

	gotID, ok := UserIDFromContext(c)
	require.True(t, ok)
	assert.Equal(t, userID, gotID)

	gotToken, ok := AccessTokenFromContext(c)
	require.True(t, ok)
	assert.Equal(t, token, gotToken)
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	f := newAuthMiddlewareFixture(t)

	_, err := invokeAuth(t, f.middleware.Authenticate(okHandler), "")
	assert.ErrorIs(t, err, domainerrors.ErrUnauthorized)
}

func TestAuthMiddleware_MalformedToken(t *testing.T) {
	f := newAuthMiddlewareFixture(t)

	_, err := invokeAuth(t, f.middleware.Authenticate(okHandler), "Bearer not-a-jwt")
	assert.ErrorIs(t, err, domainerrors.ErrTokenInvalid)
}

func TestAuthMiddleware_ExpiredToken(t *testing.T) {
	f := newAuthMiddlewareFixture(t)

	token, err := f.tokens.GenerateAccessToken(&service.AccessClaims{
		Role: entity.RoleRider.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	require.NoError(t, err)

	// Expired and malformed tokens map to different errors so clients know
	// when a refresh is worth attempting.
	_, err = invokeAuth(t, f.middleware.Authenticate(okHandler), "Bearer "+token)
	assert.ErrorIs(t, err, domainerrors.ErrTokenExpired)
}

func TestAuthMiddleware_BlacklistedToken(t *testing.T) {
	f := newAuthMiddlewareFixture(t)
	token := f.mintToken(t, uuid.New(), entity.RoleRider)

	// First request verifies and caches the decoded claims.
	_, err := invokeAuth(t, f.middleware.Authenticate(okHandler), "Bearer "+token)
	require.NoError(t, err)

	require.NoError(t, f.registry.Blacklist(t.Context(), token))

	// Revocation wins even though the decoded claims are still cached.
	_, err = invokeAuth(t, f.middleware.Authenticate(okHandler), "Bearer "+token)
	assert.ErrorIs(t, err, domainerrors.ErrTokenRevoked)
}

func TestAuthMiddleware_RequireRole(t *testing.T) {
	f := newAuthMiddlewareFixture(t)

	adminOnly := f.middleware.Authenticate(f.middleware.RequireRole(entity.RoleAdmin)(okHandler))

	riderToken := f.mintToken(t, uuid.New(), entity.RoleRider)
	_, err := invokeAuth(t, adminOnly, "Bearer "+riderToken)
	assert.ErrorIs(t, err, domainerrors.ErrForbidden)

	adminToken := f.mintToken(t, uuid.New(), entity.RoleAdmin)
	_, err = invokeAuth(t, adminOnly, "Bearer "+adminToken)
	assert.NoError(t, err)

	// A higher rank satisfies the requirement.
	superToken := f.mintToken(t, uuid.New(), entity.RoleSuperAdmin)
	_, err = invokeAuth(t, adminOnly, "Bearer "+superToken)
	assert.NoError(t, err)
}
