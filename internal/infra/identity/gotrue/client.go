// Package gotrue implements the IdentityProvider interface against a
// GoTrue-compatible auth API (the hosted identity service owning phone OTP
// delivery and the Google OAuth flow).
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"authsvc/config"
	"authsvc/internal/domain/service"

	"github.com/pkg/errors"
)

const defaultTimeout = 10 * time.Second

// Client talks to the identity provider's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient is the constructor for Client.
func NewClient(cfg *config.Config, logger *slog.Logger) (service.IdentityProvider, error) {
	if cfg.Identity == nil || cfg.Identity.BaseURL == "" {
		return nil, errors.New("identity provider base URL is required")
	}

	timeout := cfg.Identity.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:    cfg.Identity.BaseURL,
		apiKey:     cfg.Identity.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// otpRequest is the payload for OTP send and resend calls.
type otpRequest struct {
	Phone      string `json:"phone"`
	Type       string `json:"type,omitempty"`
	CreateUser bool   `json:"create_user,omitempty"`
}

// verifyRequest is the payload for OTP verification.
type verifyRequest struct {
	Type  string `json:"type"`
	Phone string `json:"phone"`
	Token string `json:"token"`
}

// providerUser mirrors the provider's user representation.
type providerUser struct {
	ID       string `json:"id"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	Metadata struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	} `json:"user_metadata"`
}

// verifyResponse is the provider's session envelope after a successful verification.
type verifyResponse struct {
	AccessToken string       `json:"access_token"`
	User        providerUser `json:"user"`
}

// providerError mirrors the provider's error envelope.
type providerError struct {
	Message          string `json:"msg"`
	ErrorDescription string `json:"error_description"`
}

// SendPhoneOTP asks the provider to deliver a one-time code via SMS.
func (c *Client) SendPhoneOTP(ctx context.Context, phone string) error {
	body := otpRequest{Phone: phone, CreateUser: true}
	if err := c.post(ctx, "/otp", body, nil); err != nil {
		return errors.Wrap(err, "failed to request otp delivery")
	}

	return nil
}

// ResendPhoneOTP asks the provider to re-deliver the last code.
func (c *Client) ResendPhoneOTP(ctx context.Context, phone string) error {
	body := otpRequest{Phone: phone, Type: "sms"}
	if err := c.post(ctx, "/resend", body, nil); err != nil {
		return errors.Wrap(err, "failed to request otp redelivery")
	}

	return nil
}

// VerifyPhoneOTP checks the code and returns the provider's user on success.
func (c *Client) VerifyPhoneOTP(ctx context.Context, phone, code string) (*service.IdentityUser, error) {
	body := verifyRequest{Type: "sms", Phone: phone, Token: code}

	var resp verifyResponse
	if err := c.post(ctx, "/verify", body, &resp); err != nil {
		return nil, errors.Wrap(service.ErrOTPVerificationFailed, err.Error())
	}

	if resp.User.ID == "" {
		return nil, errors.Wrap(service.ErrOTPVerificationFailed, "provider returned no user")
	}

	return toIdentityUser(&resp.User), nil
}

// UserFromToken resolves a provider-issued access token to the provider's user.
func (c *Client) UserFromToken(ctx context.Context, providerToken string) (*service.IdentityUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user", nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	req.Header.Set("Authorization", "Bearer "+providerToken)
	req.Header.Set("apikey", c.apiKey)

	var user providerUser
	if err := c.do(req, &user); err != nil {
		return nil, errors.Wrap(service.ErrIdentityTokenInvalid, err.Error())
	}

	if user.ID == "" {
		return nil, errors.Wrap(service.ErrIdentityTokenInvalid, "provider returned no user")
	}

	return toIdentityUser(&user), nil
}

// GoogleAuthURL builds the hosted Google OAuth entry URL. Visiting it sends
// the browser through the provider's Google flow and back to redirectTo with
// a provider access token.
func (c *Client) GoogleAuthURL(redirectTo string) string {
	query := url.Values{}
	query.Set("provider", "google")
	if redirectTo != "" {
		query.Set("redirect_to", redirectTo)
	}

	return c.baseURL + "/authorize?" + query.Encode()
}

func (c *Client) post(ctx context.Context, path string, body, dest any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return errors.WithStack(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return errors.WithStack(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	return c.do(req, dest)
}

func (c *Client) do(req *http.Request, dest any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.WithStack(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.WithStack(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var provErr providerError
		if json.Unmarshal(raw, &provErr) == nil {
			if provErr.Message != "" {
				return errors.Errorf("provider returned %d: %s", resp.StatusCode, provErr.Message)
			}
			if provErr.ErrorDescription != "" {
				return errors.Errorf("provider returned %d: %s", resp.StatusCode, provErr.ErrorDescription)
			}
		}

		return errors.Errorf("provider returned %d", resp.StatusCode)
	}

	if dest == nil {
		return nil
	}

	return errors.WithStack(json.Unmarshal(raw, dest))
}

func toIdentityUser(u *providerUser) *service.IdentityUser {
	return &service.IdentityUser{
		ID:        u.ID,
		Phone:     u.Phone,
		Email:     u.Email,
		FirstName: u.Metadata.FirstName,
		LastName:  u.Metadata.LastName,
	}
}
