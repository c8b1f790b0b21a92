package service

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Verification errors. Expired and malformed tokens are surfaced as distinct
// sentinels so the delivery layer can answer 401 for the former and 403 for
// the latter.
var (
	// ErrTokenExpired is returned when a token's signature is valid but its expiry has passed.
	ErrTokenExpired = errors.New("token has expired")
	// ErrTokenInvalid is returned for malformed, tampered, or wrongly signed tokens.
	ErrTokenInvalid = errors.New("token is invalid")
)

// AccessClaims defines the custom claims embedded in access tokens.
// The subject carries the user ID; the rest mirrors the user snapshot
// at issuance time.
type AccessClaims struct {
	IdentityID string `json:"identityId,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim as a user UUID.
func (c *AccessClaims) UserID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, errors.Wrap(ErrTokenInvalid, "subject is not a valid user ID")
	}

	return id, nil
}

// Expired reports whether the claims are past their expiry at the given time.
func (c *AccessClaims) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// TokenService defines the interface for minting and verifying credentials.
// This abstracts the details of token creation from the use cases.
type TokenService interface {
	// GenerateAccessToken creates a signed access token carrying the given claims.
	GenerateAccessToken(claims *AccessClaims) (string, error)

	// VerifyAccessToken checks signature and expiry of an access token.
	// Returns ErrTokenExpired or ErrTokenInvalid accordingly.
	VerifyAccessToken(tokenString string) (*AccessClaims, error)

	// DecodeUnverified parses claims without verifying the signature.
	// Only for introspection such as computing a remaining-lifetime TTL;
	// never for authentication decisions.
	DecodeUnverified(tokenString string) (*AccessClaims, error)

	// GenerateRefreshToken produces a new opaque refresh token from a
	// cryptographically secure random source.
	GenerateRefreshToken() (string, error)

	// HashToken derives the short non-reversible key under which a token is
	// stored and looked up. The hash is not a secret.
	HashToken(token string) string

	// AccessTokenDuration returns the configured access token lifetime.
	AccessTokenDuration() time.Duration

	// RefreshTokenDuration returns the configured refresh token lifetime.
	RefreshTokenDuration() time.Duration
}
