// Package auth provides concrete implementations for authentication-related domain services.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"authsvc/config"
	"authsvc/internal/domain/service"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// tokenHashLength truncates the SHA-256 hex digest used as a lookup key.
// The hash is an identifier, not a secret; 16 hex chars (64 bits) is enough
// to make collisions a non-issue at this keyspace size.
const tokenHashLength = 16

// refreshTokenBytes is the entropy of an opaque refresh token.
const refreshTokenBytes = 64

// jwtService is a concrete implementation of the TokenService interface using the JWT standard.
type jwtService struct {
	secret     string        // Symmetric key for signing access tokens.
	accessTTL  time.Duration // Time-to-live for access tokens.
	refreshTTL time.Duration // Time-to-live for refresh tokens.
}

// NewJWTService is the constructor for jwtService.
// It takes configuration values to create a new token service instance.
func NewJWTService(cfg *config.Config) (service.TokenService, error) {
	if cfg.SecretKey.Access == "" {
		return nil, errors.New("jwt secret must be provided")
	}

	accessTTL := 7 * 24 * time.Hour
	refreshTTL := 30 * 24 * time.Hour
	if cfg.Auth != nil {
		if cfg.Auth.AccessTokenTTL > 0 {
			accessTTL = cfg.Auth.AccessTokenTTL
		}
		if cfg.Auth.RefreshTokenTTL > 0 {
			refreshTTL = cfg.Auth.RefreshTokenTTL
		}
	}

	return &jwtService{
		secret:     cfg.SecretKey.Access,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}, nil
}

// GenerateAccessToken creates a signed access token carrying the given claims.
// Issued-at and expiry are stamped here; callers fill the identity fields.
func (s *jwtService) GenerateAccessToken(claims *service.AccessClaims) (string, error) {
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.accessTTL))
	// A fresh jti makes every minted token distinct even when two issuances
	// for the same user land inside the same second.
	claims.ID = uuid.NewString()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.secret))
	if err != nil {
		return "", errors.Wrap(err, "failed to sign access token")
	}

	return signed, nil
}

// VerifyAccessToken checks signature and expiry of an access token.
// An expired-but-authentic token surfaces as ErrTokenExpired so the client
// knows to refresh; every other failure is ErrTokenInvalid.
func (s *jwtService) VerifyAccessToken(tokenString string) (*service.AccessClaims, error) {
	claims := &service.AccessClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		// Ensure the signing method is what we expect.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}

		return []byte(s.secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, service.ErrTokenExpired
		}

		return nil, errors.Wrap(service.ErrTokenInvalid, err.Error())
	}

	return claims, nil
}

// DecodeUnverified parses claims without checking the signature.
// Only for introspection; never for authentication decisions.
func (s *jwtService) DecodeUnverified(tokenString string) (*service.AccessClaims, error) {
	claims := &service.AccessClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, errors.Wrap(service.ErrTokenInvalid, err.Error())
	}

	return claims, nil
}

// GenerateRefreshToken produces an opaque token from crypto/rand.
func (s *jwtService) GenerateRefreshToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "failed to read random bytes")
	}

	return hex.EncodeToString(buf), nil
}

// HashToken derives the truncated SHA-256 hex key a token is stored under.
func (s *jwtService) HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))

	return hex.EncodeToString(sum[:])[:tokenHashLength]
}

// AccessTokenDuration returns the configured access token lifetime.
func (s *jwtService) AccessTokenDuration() time.Duration {
	return s.accessTTL
}

// RefreshTokenDuration returns the configured refresh token lifetime.
func (s *jwtService) RefreshTokenDuration() time.Duration {
	return s.refreshTTL
}
