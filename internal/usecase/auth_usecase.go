// Package usecase contains the application-specific business rules.
// It orchestrates the domain layer to perform tasks.
package usecase

import (
	"context"

	"authsvc/internal/domain/entity"

	"github.com/google/uuid"
)

// --- Input DTOs ---

// SendOTPInput defines the data required to request an OTP delivery.
type SendOTPInput struct {
	Phone string
}

// VerifyOTPInput defines the data required to verify a phone OTP.
type VerifyOTPInput struct {
	Phone     string
	Code      string
	IPAddress string
	UserAgent string
}

// OAuthExchangeInput defines the data required to exchange a provider-issued
// OAuth token for service tokens.
type OAuthExchangeInput struct {
	ProviderToken string
	IPAddress     string
	UserAgent     string
}

// RefreshInput defines the data required to rotate a refresh token.
type RefreshInput struct {
	RefreshToken string
	IPAddress    string
	UserAgent    string
}

// LogoutInput defines the data required to terminate the caller's sessions.
type LogoutInput struct {
	UserID      uuid.UUID
	AccessToken string
}

// --- Output DTOs ---

// AuthOutput returns the issued token pair after successful authentication.
type AuthOutput struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64 // Access token lifetime in seconds.
	User         *entity.User
}

// AuthUsecase defines the interface for authentication business operations.
// This is the contract that the delivery layer (e.g., API handlers) will depend on.
type AuthUsecase interface {
	// SendOTP requests an OTP delivery to the given phone, enforcing the
	// per-phone send quota and resend cooldown.
	SendOTP(ctx context.Context, input SendOTPInput) error

	// ResendOTP re-delivers the last OTP, subject to the same throttling as SendOTP.
	ResendOTP(ctx context.Context, input SendOTPInput) error

	// VerifyOTP checks the code with the identity provider and issues service
	// tokens. First-time phones are registered atomically: the user record and
	// its default role land in one transaction.
	VerifyOTP(ctx context.Context, input VerifyOTPInput) (*AuthOutput, error)

	// GoogleAuthURL returns the provider-hosted Google OAuth entry URL.
	GoogleAuthURL(redirectTo string) string

	// ExchangeOAuthToken resolves a provider token to a known user and issues
	// service tokens. OAuth never creates accounts: unknown identities are
	// rejected so registration stays an explicit step.
	ExchangeOAuthToken(ctx context.Context, input OAuthExchangeInput) (*AuthOutput, error)

	// Refresh rotates the refresh token and issues a fresh pair. The presented
	// token is single-use; the new access token carries the user's current role
	// read from the database, not the old token's claim.
	Refresh(ctx context.Context, input RefreshInput) (*AuthOutput, error)

	// Logout revokes the user's refresh tokens and sessions, blacklists the
	// presented access token, and drops the user's cached state.
	Logout(ctx context.Context, input LogoutInput) error

	// CurrentUser loads the user's profile, served from cache when warm.
	CurrentUser(ctx context.Context, userID uuid.UUID) (*entity.User, error)
}
