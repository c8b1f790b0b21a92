package auth

import (
	"testing"
	"time"

	"authsvc/config"
	"authsvc/internal/domain/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.SecretKey.Access = "test_access_secret_key_very_long_for_testing"
	cfg.Auth = &config.AuthConfig{
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 30 * 24 * time.Hour,
	}

	return cfg
}

func TestJWTService_GenerateAndVerifyAccessToken(t *testing.T) {
	svc, err := NewJWTService(newTestConfig())
	require.NoError(t, err)

	userID := uuid.New()
	claims := &service.AccessClaims{
		IdentityID: "idp-123",
		Phone:      "+886912345678",
		FirstName:  "Mei",
		LastName:   "Lin",
		Role:       "RIDER",
	}
	claims.Subject = userID.String()

	token, err := svc.GenerateAccessToken(claims)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := svc.VerifyAccessToken(token)
	require.NoError(t, err)

	gotID, err := got.UserID()
	require.NoError(t, err)
	assert.Equal(t, userID, gotID)
	assert.Equal(t, "idp-123", got.IdentityID)
	assert.Equal(t, "+886912345678", got.Phone)
	assert.Equal(t, "RIDER", got.Role)
	assert.NotNil(t, got.ExpiresAt)
}

func TestJWTService_ExpiredToken(t *testing.T) {
	cfg := newTestConfig()
	cfg.Auth.AccessTokenTTL = -time.Minute

	svc, err := NewJWTService(cfg)
	require.NoError(t, err)

	claims := &service.AccessClaims{Role: "RIDER"}
	claims.Subject = uuid.New().String()

	token, err := svc.GenerateAccessToken(claims)
	require.NoError(t, err)

	_, err = svc.VerifyAccessToken(token)
	assert.ErrorIs(t, err, service.ErrTokenExpired)
}

func TestJWTService_InvalidToken(t *testing.T) {
	svc, err := NewJWTService(newTestConfig())
	require.NoError(t, err)

	_, err = svc.VerifyAccessToken("clearly-not-a-jwt-token-format")
	assert.ErrorIs(t, err, service.ErrTokenInvalid)
}

func TestJWTService_TamperedToken(t *testing.T) {
	svc, err := NewJWTService(newTestConfig())
	require.NoError(t, err)

	otherCfg := newTestConfig()
	otherCfg.SecretKey.Access = "a_completely_different_signing_secret"
	other, err := NewJWTService(otherCfg)
	require.NoError(t, err)

	claims := &service.AccessClaims{Role: "ADMIN"}
	claims.Subject = uuid.New().String()

	token, err := other.GenerateAccessToken(claims)
	require.NoError(t, err)

	// Signed with a different key: invalid, not expired.
	_, err = svc.VerifyAccessToken(token)
	assert.ErrorIs(t, err, service.ErrTokenInvalid)
}

func TestJWTService_DecodeUnverified(t *testing.T) {
	svc, err := NewJWTService(newTestConfig())
	require.NoError(t, err)

	claims := &service.AccessClaims{Role: "DRIVER"}
	claims.Subject = uuid.New().String()

	token, err := svc.GenerateAccessToken(claims)
	require.NoError(t, err)

	decoded, err := svc.DecodeUnverified(token)
	require.NoError(t, err)
	assert.Equal(t, "DRIVER", decoded.Role)
}

func TestJWTService_RefreshTokenGeneration(t *testing.T) {
	svc, err := NewJWTService(newTestConfig())
	require.NoError(t, err)

	first, err := svc.GenerateRefreshToken()
	require.NoError(t, err)
	second, err := svc.GenerateRefreshToken()
	require.NoError(t, err)

	assert.Len(t, first, 128) // 64 random bytes, hex encoded
	assert.NotEqual(t, first, second)
}

func TestJWTService_HashToken(t *testing.T) {
	svc, err := NewJWTService(newTestConfig())
	require.NoError(t, err)

	hash := svc.HashToken("some-token")
	assert.Len(t, hash, 16)
	assert.Equal(t, hash, svc.HashToken("some-token"))
	assert.NotEqual(t, hash, svc.HashToken("other-token"))
}

func TestJWTService_EmptySecret(t *testing.T) {
	cfg := newTestConfig()
	cfg.SecretKey.Access = ""

	svc, err := NewJWTService(cfg)
	assert.Error(t, err)
	assert.Nil(t, svc)
}

func TestJWTService_Durations(t *testing.T) {
	svc, err := NewJWTService(newTestConfig())
	require.NoError(t, err)

	assert.Equal(t, time.Hour, svc.AccessTokenDuration())
	assert.Equal(t, 30*24*time.Hour, svc.RefreshTokenDuration())
}
