// Package impl contains the implementation of the application's business logic.
package impl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"authsvc/config"
	deliverycontext "authsvc/internal/delivery/context"
	"authsvc/internal/domain/entity"
	domainerrors "authsvc/internal/domain/errors"
	"authsvc/internal/domain/repository"
	"authsvc/internal/domain/service"
	"authsvc/internal/infra/cache"
	"authsvc/internal/usecase"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/fx"
)

// authService implements the AuthUsecase interface. Credentials live at the
// external identity provider; this service owns the user records, the token
// lifecycle, and the caching around both.
type authService struct {
	txManager         repository.TransactionManager
	userRepo          repository.UserRepository
	refreshTokenRepo  repository.RefreshTokenRepository
	sessionRepo       repository.SessionRepository
	identity          service.IdentityProvider
	tokenService      service.TokenService
	tokenRegistry     service.TokenRegistry
	cache             service.CacheService
	events            service.EventPublisher
	otpMaxSends       int
	otpWindow         time.Duration
	otpResendCooldown time.Duration
	sessionTTL        time.Duration
	logger            *slog.Logger
}

// AuthServiceParams holds dependencies for AuthService, injected by Fx.
type AuthServiceParams struct {
	fx.In

	TxManager        repository.TransactionManager
	UserRepo         repository.UserRepository
	RefreshTokenRepo repository.RefreshTokenRepository
	SessionRepo      repository.SessionRepository
	Identity         service.IdentityProvider
	TokenService     service.TokenService
	TokenRegistry    service.TokenRegistry
	Cache            service.CacheService
	Events           service.EventPublisher
	Config           *config.Config
	Logger           *slog.Logger
}

// NewAuthService is the constructor for authService. It receives all dependencies as interfaces.
func NewAuthService(params AuthServiceParams) usecase.AuthUsecase {
	srv := &authService{
		txManager:        params.TxManager,
		userRepo:         params.UserRepo,
		refreshTokenRepo: params.RefreshTokenRepo,
		sessionRepo:      params.SessionRepo,
		identity:         params.Identity,
		tokenService:     params.TokenService,
		tokenRegistry:    params.TokenRegistry,
		cache:            params.Cache,
		events:           params.Events,
		logger:           params.Logger,
	}

	if params.Config != nil && params.Config.OTP != nil {
		srv.otpMaxSends = params.Config.OTP.MaxSends
		srv.otpWindow = params.Config.OTP.Window
		srv.otpResendCooldown = params.Config.OTP.ResendCooldown
	}
	if params.Config != nil && params.Config.Auth != nil {
		srv.sessionTTL = params.Config.Auth.SessionTTL
	}
	if srv.sessionTTL <= 0 {
		srv.sessionTTL = params.TokenService.RefreshTokenDuration()
	}

	return srv
}

// log returns a request-scoped logger if available, otherwise falls back to the service's logger.
func (srv *authService) log(ctx context.Context) *slog.Logger {
	return deliverycontext.GetLoggerOrDefault(ctx, srv.logger)
}

// SendOTP requests an OTP delivery to the given phone.
func (srv *authService) SendOTP(ctx context.Context, input usecase.SendOTPInput) error {
	return srv.deliverOTP(ctx, input.Phone, srv.identity.SendPhoneOTP)
}

// ResendOTP re-delivers the last OTP, subject to the same throttling as SendOTP.
func (srv *authService) ResendOTP(ctx context.Context, input usecase.SendOTPInput) error {
	return srv.deliverOTP(ctx, input.Phone, srv.identity.ResendPhoneOTP)
}

func (srv *authService) deliverOTP(ctx context.Context, phone string, send func(context.Context, string) error) error {
	// 1. Enforce the per-phone cooldown and send quota. Both counters live in
	// the cache and fail open: with the cache down, delivery proceeds.
	if err := srv.throttleOTP(ctx, phone); err != nil {
		srv.log(ctx).Warn("OTP delivery throttled", slog.String("phone", phone), slog.Any("error", err))

		return err
	}

	// 2. Ask the identity provider to deliver the code.
	if err := send(ctx, phone); err != nil {
		srv.log(ctx).Error("OTP delivery failed", slog.String("phone", phone), slog.Any("error", err))

		return errors.Wrap(domainerrors.ErrOTPSendFailed, err.Error())
	}

	// 3. Start the resend cooldown only after a successful delivery.
	srv.cache.Set(ctx, cache.OTPLastSentKey(phone), time.Now().Unix(), srv.otpResendCooldown)

	srv.log(ctx).Info("OTP delivered", slog.String("phone", phone))

	return nil
}

// throttleOTP counts deliveries per phone in a fixed window and enforces the
// minimum gap between two deliveries.
func (srv *authService) throttleOTP(ctx context.Context, phone string) error {
	if srv.otpResendCooldown > 0 && srv.cache.Exists(ctx, cache.OTPLastSentKey(phone)) {
		retryAfter := srv.otpResendCooldown
		if ttl, ok := srv.cache.TTL(ctx, cache.OTPLastSentKey(phone)); ok && ttl > 0 {
			retryAfter = ttl
		}

		return domainerrors.ErrOTPResendTooSoon.WithDetails(
			fmt.Sprintf("retryAfter=%d", int64((retryAfter+time.Second-1)/time.Second)),
		)
	}

	if srv.otpMaxSends <= 0 {
		return nil
	}

	count, ok := srv.cache.Increment(ctx, cache.OTPAttemptsKey(phone))
	if !ok {
		return nil
	}
	if count == 1 {
		srv.cache.Expire(ctx, cache.OTPAttemptsKey(phone), srv.otpWindow)
	}
	if count > int64(srv.otpMaxSends) {
		return domainerrors.ErrOTPRateLimited
	}

	return nil
}

// VerifyOTP checks the code with the identity provider and issues service tokens.
func (srv *authService) VerifyOTP(ctx context.Context, input usecase.VerifyOTPInput) (*usecase.AuthOutput, error) {
	// 1. Verify the code upstream. The provider is the source of truth for
	// code validity; a rejection maps to a uniform invalid-OTP answer.
	identityUser, err := srv.identity.VerifyPhoneOTP(ctx, input.Phone, input.Code)
	if err != nil {
		srv.log(ctx).Warn("OTP verification rejected", slog.String("phone", input.Phone), slog.Any("error", err))

		return nil, errors.Wrap(domainerrors.ErrOTPInvalid, err.Error())
	}

	// 2. Resolve or register the local user. Registration is atomic: the user
	// row and its default role land in one transaction.
	user, registered, err := srv.findOrRegisterUser(ctx, identityUser, input.Phone)
	if err != nil {
		return nil, err
	}

	if err := checkUserStatus(user); err != nil {
		srv.log(ctx).Warn("Login blocked by account status", slog.Any("userID", user.ID), slog.String("status", string(user.Status)))

		return nil, err
	}

	// 3. Issue the token pair and record the session.
	output, err := srv.issueTokens(ctx, user, input.IPAddress, input.UserAgent)
	if err != nil {
		return nil, err
	}

	// 4. Post-login bookkeeping off the hot path.
	srv.recordLogin(ctx, user)
	srv.cache.Delete(ctx, cache.OTPAttemptsKey(input.Phone), cache.OTPLastSentKey(input.Phone))

	eventType := service.EventUserLoggedIn
	if registered {
		eventType = service.EventUserRegistered
	}
	srv.publishEvent(ctx, eventType, user)

	srv.log(ctx).Info("Phone login completed",
		slog.Any("userID", user.ID),
		slog.Bool("registered", registered),
	)

	return output, nil
}

func (srv *authService) findOrRegisterUser(ctx context.Context, identityUser *service.IdentityUser, phone string) (*entity.User, bool, error) {
	user, err := srv.userRepo.FindByIdentityID(ctx, identityUser.ID)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, false, errors.Wrap(err, "failed to look up user by identity")
	}

	newUser := &entity.User{
		IdentityID: identityUser.ID,
		Phone:      phone,
		Email:      identityUser.Email,
		FirstName:  identityUser.FirstName,
		LastName:   identityUser.LastName,
		Status:     entity.UserStatusActive,
		Roles:      entity.Roles{entity.DefaultRole},
	}

	txErr := srv.txManager.Execute(ctx, func(repoFactory repository.RepositoryFactory) error {
		return repoFactory.NewUserRepository().Create(ctx, newUser)
	})
	if txErr != nil {
		if errors.Is(txErr, repository.ErrUserDuplicate) {
			// A concurrent verification may have registered the same identity;
			// fall back to the winner's record.
			existing, findErr := srv.userRepo.FindByIdentityID(ctx, identityUser.ID)
			if findErr == nil {
				return existing, false, nil
			}

			// The phone may belong to an account that predates the current
			// identity linkage. Adopt it and point it at this identity.
			existing, findErr = srv.userRepo.FindByPhone(ctx, phone)
			if findErr == nil {
				if linkErr := srv.userRepo.LinkIdentity(ctx, existing.ID, identityUser.ID); linkErr != nil {
					return nil, false, errors.Wrap(linkErr, "failed to link identity")
				}
				existing.IdentityID = identityUser.ID
				srv.log(ctx).Info("Linked existing account to identity", slog.Any("userID", existing.ID), slog.String("phone", phone))

				return existing, false, nil
			}
		}

		srv.log(ctx).Error("Failed to register user", slog.String("phone", phone), slog.Any("error", txErr))

		return nil, false, errors.Wrap(txErr, "failed to register user")
	}

	srv.log(ctx).Info("Registered new user", slog.Any("userID", newUser.ID), slog.String("phone", phone))

	return newUser, true, nil
}

// GoogleAuthURL returns the provider-hosted Google OAuth entry URL.
func (srv *authService) GoogleAuthURL(redirectTo string) string {
	return srv.identity.GoogleAuthURL(redirectTo)
}

// ExchangeOAuthToken resolves a provider token to a known user and issues
// service tokens. Unknown identities are rejected: OAuth never creates accounts.
func (srv *authService) ExchangeOAuthToken(ctx context.Context, input usecase.OAuthExchangeInput) (*usecase.AuthOutput, error) {
	// 1. Resolve the provider token upstream.
	identityUser, err := srv.identity.UserFromToken(ctx, input.ProviderToken)
	if err != nil {
		srv.log(ctx).Warn("OAuth token rejected by provider", slog.Any("error", err))

		return nil, errors.Wrap(domainerrors.ErrOAuthTokenInvalid, err.Error())
	}

	// 2. The identity must already be registered.
	user, err := srv.userRepo.FindByIdentityID(ctx, identityUser.ID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, domainerrors.ErrUserNotRegistered
		}

		return nil, errors.Wrap(err, "failed to look up user by identity")
	}

	if err := checkUserStatus(user); err != nil {
		srv.log(ctx).Warn("Login blocked by account status", slog.Any("userID", user.ID), slog.String("status", string(user.Status)))

		return nil, err
	}

	// 3. Sync profile fields from provider metadata. Best effort: a failed
	// sync must not block the login.
	srv.syncProfile(ctx, user, identityUser)

	// 4. Issue the token pair and record the session.
	output, err := srv.issueTokens(ctx, user, input.IPAddress, input.UserAgent)
	if err != nil {
		return nil, err
	}

	srv.recordLogin(ctx, user)
	srv.publishEvent(ctx, service.EventUserLoggedIn, user)

	srv.log(ctx).Info("OAuth login completed", slog.Any("userID", user.ID))

	return output, nil
}

// Refresh rotates the presented refresh token and issues a fresh pair.
func (srv *authService) Refresh(ctx context.Context, input usecase.RefreshInput) (*usecase.AuthOutput, error) {
	// 1. Look up the presented token by hash.
	presentedHash := srv.tokenService.HashToken(input.RefreshToken)

	record, err := srv.refreshTokenRepo.FindByTokenHash(ctx, presentedHash)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrRefreshTokenNotFound):
			return nil, domainerrors.ErrRefreshTokenInvalid
		case errors.Is(err, repository.ErrRefreshTokenExpired):
			return nil, domainerrors.ErrRefreshTokenExpired
		default:
			return nil, errors.Wrap(err, "failed to look up refresh token")
		}
	}

	// 2. A revoked token presented again is a replay.
	if record.IsRevoked {
		srv.log(ctx).Warn("Revoked refresh token presented", slog.Any("tokenID", record.ID), slog.Any("userID", record.UserID))

		return nil, domainerrors.ErrRefreshTokenRevoked
	}

	// 3. Load the user and re-check status; suspension takes effect on the
	// next refresh at the latest.
	user, err := srv.userRepo.FindByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, domainerrors.ErrUserNotFound
		}

		return nil, errors.Wrap(err, "failed to load user for refresh")
	}
	if err := checkUserStatus(user); err != nil {
		return nil, err
	}

	// 4. Mint the new access token first. Its claims carry the user's current
	// role, read from the database, so role changes propagate within one
	// access token lifetime.
	accessToken, err := srv.generateAccessToken(user)
	if err != nil {
		return nil, err
	}

	newRefreshToken, err := srv.tokenService.GenerateRefreshToken()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate refresh token")
	}

	now := time.Now()
	successor := &entity.RefreshToken{
		UserID:    user.ID,
		TokenHash: srv.tokenService.HashToken(newRefreshToken),
		ExpiresAt: now.Add(srv.tokenService.RefreshTokenDuration()),
	}
	session := &entity.Session{
		UserID:    user.ID,
		TokenHash: srv.tokenService.HashToken(accessToken),
		IPAddress: input.IPAddress,
		UserAgent: input.UserAgent,
		ExpiresAt: now.Add(srv.sessionTTL),
		IsActive:  true,
	}

	// 5. Create the successor and its session, then retire the old token, all
	// in one transaction. The conditional update makes rotation single-use:
	// when two requests race on the same token, only one commit survives and
	// the loser's successor and session roll back with it.
	txErr := srv.txManager.Execute(ctx, func(repoFactory repository.RepositoryFactory) error {
		tokenRepo := repoFactory.NewRefreshTokenRepository()

		if err := tokenRepo.Create(ctx, successor); err != nil {
			return err
		}

		if err := repoFactory.NewSessionRepository().Create(ctx, session); err != nil {
			return err
		}

		return tokenRepo.MarkRotated(ctx, record.ID, successor.ID, now)
	})
	if txErr != nil {
		if errors.Is(txErr, repository.ErrRefreshTokenRevoked) {
			srv.log(ctx).Warn("Lost refresh rotation race", slog.Any("tokenID", record.ID), slog.Any("userID", user.ID))

			return nil, domainerrors.ErrRefreshTokenRevoked
		}

		return nil, errors.Wrap(txErr, "failed to rotate refresh token")
	}

	srv.cacheUserSnapshot(ctx, user)
	srv.publishEvent(ctx, service.EventTokenRefreshed, user)

	srv.log(ctx).Debug("Refresh token rotated", slog.Any("userID", user.ID), slog.Any("tokenID", successor.ID))

	return &usecase.AuthOutput{
		AccessToken:  accessToken,
		RefreshToken: newRefreshToken,
		ExpiresIn:    int64(srv.tokenService.AccessTokenDuration().Seconds()),
		User:         user,
	}, nil
}

// Logout revokes the user's refresh tokens and sessions, blacklists the
// presented access token, and drops the user's cached state.
func (srv *authService) Logout(ctx context.Context, input usecase.LogoutInput) error {
	// 1. Revoke everything durable first; the blacklist and cache writes are
	// advisory and must not precede the committed revocation.
	now := time.Now()

	var revokedTokens, revokedSessions int64
	err := srv.txManager.Execute(ctx, func(repoFactory repository.RepositoryFactory) error {
		var err error

		revokedTokens, err = repoFactory.NewRefreshTokenRepository().RevokeAllByUserID(ctx, input.UserID, now)
		if err != nil {
			return err
		}

		revokedSessions, err = repoFactory.NewSessionRepository().RevokeAllByUserID(ctx, input.UserID, now)

		return err
	})
	if err != nil {
		srv.log(ctx).Error("Failed to revoke sessions on logout", slog.Any("userID", input.UserID), slog.Any("error", err))

		return errors.Wrap(err, "failed to revoke sessions")
	}

	// 2. Blacklist the presented access token for its remaining lifetime.
	// With the cache down this is skipped and the token dies at its natural expiry.
	if input.AccessToken != "" {
		if err := srv.tokenRegistry.Blacklist(ctx, input.AccessToken); err != nil {
			srv.log(ctx).Warn("Failed to blacklist access token", slog.Any("userID", input.UserID), slog.Any("error", err))
		}
		srv.tokenRegistry.InvalidateDecoded(ctx, input.AccessToken)
	}

	// 3. Drop cached user state from every lookup key.
	srv.dropUserCache(ctx, input.UserID)

	srv.publishEvent(ctx, service.EventUserLoggedOut, &entity.User{ID: input.UserID})

	srv.log(ctx).Info("Logout completed",
		slog.Any("userID", input.UserID),
		slog.Int64("revokedTokens", revokedTokens),
		slog.Int64("revokedSessions", revokedSessions),
	)

	return nil
}

// CurrentUser loads the user's profile, served from cache when warm. The
// fetch is guarded by a cross-instance lock so a cold key under concurrent
// requests hits the database a bounded number of times.
func (srv *authService) CurrentUser(ctx context.Context, userID uuid.UUID) (*entity.User, error) {
	user := &entity.User{}

	err := srv.cache.GetOrSetWithLock(ctx, cache.UserKey(userID.String()), cache.TTLUserData, user,
		func(fetchCtx context.Context) (any, error) {
			return srv.userRepo.FindByID(fetchCtx, userID)
		})
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, domainerrors.ErrUserNotFound
		}

		return nil, errors.Wrap(err, "failed to load user")
	}

	return user, nil
}

// issueTokens mints the access/refresh pair and persists the refresh token
// together with its session record in one transaction.
func (srv *authService) issueTokens(ctx context.Context, user *entity.User, ipAddress, userAgent string) (*usecase.AuthOutput, error) {
	accessToken, err := srv.generateAccessToken(user)
	if err != nil {
		return nil, err
	}

	refreshToken, err := srv.tokenService.GenerateRefreshToken()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate refresh token")
	}

	tokenHash := srv.tokenService.HashToken(refreshToken)
	now := time.Now()

	err = srv.txManager.Execute(ctx, func(repoFactory repository.RepositoryFactory) error {
		record := &entity.RefreshToken{
			UserID:    user.ID,
			TokenHash: tokenHash,
			ExpiresAt: now.Add(srv.tokenService.RefreshTokenDuration()),
		}
		if err := repoFactory.NewRefreshTokenRepository().Create(ctx, record); err != nil {
			return err
		}

		session := &entity.Session{
			UserID:    user.ID,
			TokenHash: srv.tokenService.HashToken(accessToken),
			IPAddress: ipAddress,
			UserAgent: userAgent,
			ExpiresAt: now.Add(srv.sessionTTL),
			IsActive:  true,
		}

		return repoFactory.NewSessionRepository().Create(ctx, session)
	})
	if err != nil {
		srv.log(ctx).Error("Failed to persist issued tokens", slog.Any("userID", user.ID), slog.Any("error", err))

		return nil, errors.Wrap(err, "failed to persist issued tokens")
	}

	srv.cacheUserSnapshot(ctx, user)

	return &usecase.AuthOutput{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(srv.tokenService.AccessTokenDuration().Seconds()),
		User:         user,
	}, nil
}

func (srv *authService) generateAccessToken(user *entity.User) (string, error) {
	claims := &service.AccessClaims{
		IdentityID: user.IdentityID,
		Phone:      user.Phone,
		Email:      user.Email,
		FirstName:  user.FirstName,
		LastName:   user.LastName,
		Role:       user.PrimaryRole().String(),
	}
	claims.Subject = user.ID.String()

	accessToken, err := srv.tokenService.GenerateAccessToken(claims)
	if err != nil {
		return "", errors.Wrap(err, "failed to generate access token")
	}

	return accessToken, nil
}

// recordLogin stamps last_login_at without blocking the login response.
// syncProfile copies changed provider metadata (email, name) onto the local
// record so the profile follows the provider between logins.
func (srv *authService) syncProfile(ctx context.Context, user *entity.User, identityUser *service.IdentityUser) {
	if user.Email == identityUser.Email && user.FirstName == identityUser.FirstName && user.LastName == identityUser.LastName {
		return
	}

	if err := srv.userRepo.UpdateProfile(ctx, user.ID, identityUser.Email, identityUser.FirstName, identityUser.LastName); err != nil {
		srv.logger.Warn("Failed to sync profile from provider", slog.Any("userID", user.ID), slog.Any("error", err))

		return
	}

	if identityUser.Email != "" {
		user.Email = identityUser.Email
	}
	if identityUser.FirstName != "" {
		user.FirstName = identityUser.FirstName
	}
	if identityUser.LastName != "" {
		user.LastName = identityUser.LastName
	}
}

func (srv *authService) recordLogin(ctx context.Context, user *entity.User) {
	bgCtx := context.WithoutCancel(ctx)

	go func() {
		if err := srv.userRepo.UpdateLastLogin(bgCtx, user.ID, time.Now()); err != nil {
			srv.logger.Warn("Failed to record last login", slog.Any("userID", user.ID), slog.Any("error", err))
		}
	}()
}

// cacheUserSnapshot warms the user cache under every lookup key: by internal
// ID, by provider identity, and by phone. Failures only cost the next reader
// a database round trip.
func (srv *authService) cacheUserSnapshot(ctx context.Context, user *entity.User) {
	srv.cache.Set(ctx, cache.UserKey(user.ID.String()), user, cache.TTLUserData)
	if user.IdentityID != "" {
		srv.cache.Set(ctx, cache.UserIdentityKey(user.IdentityID), user, cache.TTLUserData)
	}
	if user.Phone != "" {
		srv.cache.Set(ctx, cache.UserPhoneKey(user.Phone), user, cache.TTLUserData)
	}
}

// dropUserCache removes the user's snapshot from all lookup keys. The
// identity and phone keys need the stored record; when it cannot be read the
// primary key is still dropped.
func (srv *authService) dropUserCache(ctx context.Context, userID uuid.UUID) {
	keys := []string{cache.UserKey(userID.String())}

	if user, err := srv.userRepo.FindByID(ctx, userID); err == nil {
		if user.IdentityID != "" {
			keys = append(keys, cache.UserIdentityKey(user.IdentityID))
		}
		if user.Phone != "" {
			keys = append(keys, cache.UserPhoneKey(user.Phone))
		}
	}

	srv.cache.Delete(ctx, keys...)
}

// publishEvent emits an auth event off the request path.
func (srv *authService) publishEvent(ctx context.Context, eventType string, user *entity.User) {
	event := &service.AuthEvent{
		EventID:    uuid.NewString(),
		Type:       eventType,
		UserID:     user.ID.String(),
		Phone:      user.Phone,
		Role:       user.PrimaryRole().String(),
		RequestID:  deliverycontext.GetRequestIDFromContext(ctx),
		OccurredAt: time.Now().UTC(),
	}

	bgCtx := context.WithoutCancel(ctx)

	go func() {
		if err := srv.events.PublishAuthEvent(bgCtx, event); err != nil {
			srv.logger.Warn("Failed to publish auth event",
				slog.String("eventType", eventType),
				slog.Any("userID", user.ID),
				slog.Any("error", err),
			)
		}
	}()
}

func checkUserStatus(user *entity.User) error {
	switch user.Status {
	case entity.UserStatusInactive:
		return domainerrors.ErrUserInactive
	case entity.UserStatusSuspended:
		return domainerrors.ErrUserSuspended
	default:
		return nil
	}
}
