package impl

import (
	"context"
	"log/slog"
	"time"

	deliverycontext "authsvc/internal/delivery/context"
	"authsvc/internal/domain/entity"
	"authsvc/internal/domain/repository"
	"authsvc/internal/usecase"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/fx"
)

// sessionService implements the SessionUsecase interface.
type sessionService struct {
	txManager        repository.TransactionManager
	sessionRepo      repository.SessionRepository
	refreshTokenRepo repository.RefreshTokenRepository
	logger           *slog.Logger
}

// SessionServiceParams holds dependencies for SessionService, injected by Fx.
type SessionServiceParams struct {
	fx.In

	TxManager        repository.TransactionManager
	SessionRepo      repository.SessionRepository
	RefreshTokenRepo repository.RefreshTokenRepository
	Logger           *slog.Logger
}

// NewSessionService is the constructor for sessionService.
func NewSessionService(params SessionServiceParams) usecase.SessionUsecase {
	return &sessionService{
		txManager:        params.TxManager,
		sessionRepo:      params.SessionRepo,
		refreshTokenRepo: params.RefreshTokenRepo,
		logger:           params.Logger,
	}
}

// log returns a request-scoped logger if available, otherwise falls back to the service's logger.
func (srv *sessionService) log(ctx context.Context) *slog.Logger {
	return deliverycontext.GetLoggerOrDefault(ctx, srv.logger)
}

// ActiveSessions lists the user's active, non-expired sessions, newest first.
func (srv *sessionService) ActiveSessions(ctx context.Context, userID uuid.UUID) ([]*entity.Session, error) {
	sessions, err := srv.sessionRepo.FindActiveByUserID(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active sessions")
	}

	return sessions, nil
}

// RevokeAllSessions terminates every session and refresh token of the user.
// Both revocations commit together so a terminated session cannot keep a
// usable refresh token behind.
func (srv *sessionService) RevokeAllSessions(ctx context.Context, userID uuid.UUID) (int64, error) {
	now := time.Now()

	var revokedSessions int64
	err := srv.txManager.Execute(ctx, func(repoFactory repository.RepositoryFactory) error {
		if _, err := repoFactory.NewRefreshTokenRepository().RevokeAllByUserID(ctx, userID, now); err != nil {
			return err
		}

		var err error
		revokedSessions, err = repoFactory.NewSessionRepository().RevokeAllByUserID(ctx, userID, now)

		return err
	})
	if err != nil {
		srv.log(ctx).Error("Failed to revoke sessions", slog.Any("userID", userID), slog.Any("error", err))

		return 0, errors.Wrap(err, "failed to revoke sessions")
	}

	srv.log(ctx).Info("Revoked all sessions", slog.Any("userID", userID), slog.Int64("sessions", revokedSessions))

	return revokedSessions, nil
}

// CleanupExpired removes expired refresh tokens and sessions.
func (srv *sessionService) CleanupExpired(ctx context.Context) (int64, int64, error) {
	tokens, err := srv.refreshTokenRepo.DeleteExpired(ctx)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to delete expired refresh tokens")
	}

	sessions, err := srv.sessionRepo.DeleteExpired(ctx)
	if err != nil {
		return tokens, 0, errors.Wrap(err, "failed to delete expired sessions")
	}

	if tokens > 0 || sessions > 0 {
		srv.log(ctx).Info("Cleaned up expired credentials",
			slog.Int64("refreshTokens", tokens),
			slog.Int64("sessions", sessions),
		)
	}

	return tokens, sessions, nil
}
