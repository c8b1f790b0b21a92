// Package handler contains the HTTP handlers that translate requests into
// use case calls and use case results into response envelopes.
package handler

import (
	"net/http"
	"time"

	"authsvc/internal/delivery/http/middleware"
	"authsvc/internal/delivery/http/response"
	"authsvc/internal/domain/entity"
	domainerrors "authsvc/internal/domain/errors"
	"authsvc/internal/usecase"

	"github.com/labstack/echo/v4"
)

// AuthHandler exposes the authentication endpoints.
type AuthHandler struct {
	authUsecase usecase.AuthUsecase
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(authUsecase usecase.AuthUsecase) *AuthHandler {
	return &AuthHandler{
		authUsecase: authUsecase,
	}
}

type sendOTPRequest struct {
	Phone string `json:"phone" validate:"required,e164"`
}

type verifyOTPRequest struct {
	Phone string `json:"phone" validate:"required,e164"`
	Code  string `json:"code" validate:"required,numeric,min=4,max=10"`
}

type oauthCallbackRequest struct {
	ProviderToken string `json:"providerToken" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// userView is the wire representation of a user profile.
type userView struct {
	ID          string     `json:"id"`
	Phone       string     `json:"phone,omitempty"`
	Email       string     `json:"email,omitempty"`
	FirstName   string     `json:"firstName,omitempty"`
	LastName    string     `json:"lastName,omitempty"`
	Role        string     `json:"role"`
	Roles       []string   `json:"roles"`
	Status      string     `json:"status"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// authView is the wire representation of an issued token pair.
type authView struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	TokenType    string    `json:"tokenType"`
	ExpiresIn    int64     `json:"expiresIn"`
	User         *userView `json:"user"`
}

func newUserView(user *entity.User) *userView {
	if user == nil {
		return nil
	}

	roles := make([]string, 0, len(user.Roles))
	for _, role := range user.Roles {
		roles = append(roles, role.String())
	}

	return &userView{
		ID:          user.ID.String(),
		Phone:       user.Phone,
		Email:       user.Email,
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		Role:        user.PrimaryRole().String(),
		Roles:       roles,
		Status:      string(user.Status),
		LastLoginAt: user.LastLoginAt,
		CreatedAt:   user.CreatedAt,
	}
}

func newAuthView(output *usecase.AuthOutput) *authView {
	return &authView{
		AccessToken:  output.AccessToken,
		RefreshToken: output.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    output.ExpiresIn,
		User:         newUserView(output.User),
	}
}

// SendOTP handles POST /phone/send-otp
func (h *AuthHandler) SendOTP(c echo.Context) error {
	var req sendOTPRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if err := h.authUsecase.SendOTP(c.Request().Context(), usecase.SendOTPInput{Phone: req.Phone}); err != nil {
		return err
	}

	return response.Success(c, http.StatusOK, map[string]string{"phone": req.Phone}, "Verification code sent")
}

// ResendOTP handles POST /phone/resend-otp
func (h *AuthHandler) ResendOTP(c echo.Context) error {
	var req sendOTPRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if err := h.authUsecase.ResendOTP(c.Request().Context(), usecase.SendOTPInput{Phone: req.Phone}); err != nil {
		return err
	}

	return response.Success(c, http.StatusOK, nil, "Verification code resent")
}

// VerifyOTP handles POST /phone/verify
func (h *AuthHandler) VerifyOTP(c echo.Context) error {
	var req verifyOTPRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	output, err := h.authUsecase.VerifyOTP(c.Request().Context(), usecase.VerifyOTPInput{
		Phone:     req.Phone,
		Code:      req.Code,
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	})
	if err != nil {
		return err
	}

	return response.Success(c, http.StatusOK, newAuthView(output), "Authentication successful")
}

// GoogleAuth handles GET /oauth/google
func (h *AuthHandler) GoogleAuth(c echo.Context) error {
	url := h.authUsecase.GoogleAuthURL(c.QueryParam("redirect_to"))

	return response.Success(c, http.StatusOK, map[string]string{"url": url}, "")
}

// OAuthCallback handles POST /oauth/callback
func (h *AuthHandler) OAuthCallback(c echo.Context) error {
	var req oauthCallbackRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	output, err := h.authUsecase.ExchangeOAuthToken(c.Request().Context(), usecase.OAuthExchangeInput{
		ProviderToken: req.ProviderToken,
		IPAddress:     c.RealIP(),
		UserAgent:     c.Request().UserAgent(),
	})
	if err != nil {
		return err
	}

	return response.Success(c, http.StatusOK, newAuthView(output), "Authentication successful")
}

// Refresh handles POST /refresh
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	output, err := h.authUsecase.Refresh(c.Request().Context(), usecase.RefreshInput{
		RefreshToken: req.RefreshToken,
		IPAddress:    c.RealIP(),
		UserAgent:    c.Request().UserAgent(),
	})
	if err != nil {
		return err
	}

	return response.Success(c, http.StatusOK, newAuthView(output), "Token refreshed")
}

// Me handles GET /me
func (h *AuthHandler) Me(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return domainerrors.ErrUnauthorized
	}

	user, err := h.authUsecase.CurrentUser(c.Request().Context(), userID)
	if err != nil {
		return err
	}

	return response.Success(c, http.StatusOK, newUserView(user), "")
}

// Logout handles POST /logout
func (h *AuthHandler) Logout(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return domainerrors.ErrUnauthorized
	}

	accessToken, _ := middleware.AccessTokenFromContext(c)

	if err := h.authUsecase.Logout(c.Request().Context(), usecase.LogoutInput{
		UserID:      userID,
		AccessToken: accessToken,
	}); err != nil {
		return err
	}

	return response.Success(c, http.StatusOK, nil, "Logged out")
}

// bindAndValidate decodes the request body and runs struct validation.
func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return domainerrors.ErrValidationFailed.WithDetails("malformed request body")
	}

	return c.Validate(req)
}
