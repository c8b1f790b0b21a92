// Package repository defines the interfaces for the persistence layer.
package repository

import (
	"context"
	"time"

	"authsvc/internal/domain/entity"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrSessionNotFound is returned when a session record does not exist.
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository defines the interface for login session bookkeeping.
// Sessions complement refresh tokens: they track issued access tokens for
// audit purposes and allow bulk revocation on logout.
type SessionRepository interface {
	// Create persists a new session record.
	Create(ctx context.Context, session *entity.Session) error

	// FindActiveByUserID retrieves all active, non-expired sessions for a user.
	FindActiveByUserID(ctx context.Context, userID uuid.UUID) ([]*entity.Session, error)

	// RevokeAllByUserID deactivates every active session of a user and returns
	// the number of sessions revoked.
	RevokeAllByUserID(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error)

	// DeleteExpired removes expired sessions and returns the number deleted.
	DeleteExpired(ctx context.Context) (int64, error)
}
