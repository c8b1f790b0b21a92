package usecase

import (
	"context"

	"authsvc/internal/domain/entity"

	"github.com/google/uuid"
)

// SessionUsecase defines the interface for session management operations.
type SessionUsecase interface {
	// ActiveSessions lists the user's active, non-expired sessions, newest first.
	ActiveSessions(ctx context.Context, userID uuid.UUID) ([]*entity.Session, error)

	// RevokeAllSessions terminates every session and refresh token of the user
	// and returns the number of sessions revoked.
	RevokeAllSessions(ctx context.Context, userID uuid.UUID) (int64, error)

	// CleanupExpired removes expired refresh tokens and sessions. Returns the
	// number of rows deleted from each table.
	CleanupExpired(ctx context.Context) (tokens, sessions int64, err error)
}
