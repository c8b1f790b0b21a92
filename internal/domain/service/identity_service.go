package service

import (
	"context"

	"github.com/pkg/errors"
)

// Identity provider errors.
var (
	// ErrOTPVerificationFailed is returned when the provider rejects a code.
	ErrOTPVerificationFailed = errors.New("otp verification failed")
	// ErrIdentityTokenInvalid is returned when a provider-issued token cannot be resolved to a user.
	ErrIdentityTokenInvalid = errors.New("identity provider token is invalid")
)

// IdentityUser is the provider's view of an authenticated person.
type IdentityUser struct {
	ID        string // The provider's unique user ID.
	Phone     string
	Email     string
	FirstName string
	LastName  string
}

// IdentityProvider abstracts the external identity service that owns
// credential verification: phone OTP delivery and verification, and the
// hosted Google OAuth flow. This service never sees raw credentials.
type IdentityProvider interface {
	// SendPhoneOTP asks the provider to deliver a one-time code via SMS.
	SendPhoneOTP(ctx context.Context, phone string) error

	// ResendPhoneOTP asks the provider to re-deliver the last code.
	ResendPhoneOTP(ctx context.Context, phone string) error

	// VerifyPhoneOTP checks the code and returns the provider's user on success.
	VerifyPhoneOTP(ctx context.Context, phone, code string) (*IdentityUser, error)

	// UserFromToken resolves a provider-issued access token (the OAuth callback
	// hand-off) to the provider's user.
	UserFromToken(ctx context.Context, providerToken string) (*IdentityUser, error)

	// GoogleAuthURL builds the hosted Google OAuth entry URL.
	GoogleAuthURL(redirectTo string) string
}
