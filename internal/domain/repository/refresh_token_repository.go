// Package repository defines the interfaces for the persistence layer.
// These interfaces act as a contract between the domain/application layers and the infrastructure layer.
package repository

import (
	"context"
	"time"

	"authsvc/internal/domain/entity"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Domain-specific errors for refresh token persistence.
var (
	// ErrRefreshTokenNotFound is returned when a refresh token is not found.
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	// ErrRefreshTokenExpired is returned when a refresh token has expired.
	ErrRefreshTokenExpired = errors.New("refresh token has expired")
	// ErrRefreshTokenRevoked is returned when rotation targets a token that is
	// already revoked, including the case where a concurrent rotation won the race.
	ErrRefreshTokenRevoked = errors.New("refresh token already revoked")
)

// RefreshTokenRepository defines the interface for refresh token management.
// Tokens are stored hashed and rotated on every use; the revocation flags and
// the ReplacedBy link make every session chain auditable.
type RefreshTokenRepository interface {
	// Create persists a new refresh token.
	Create(ctx context.Context, token *entity.RefreshToken) error

	// FindByTokenHash retrieves a refresh token record by its stored hash.
	// Returns ErrRefreshTokenExpired when a live record is past its expiry;
	// revoked records are returned intact so callers can detect replay.
	FindByTokenHash(ctx context.Context, tokenHash string) (*entity.RefreshToken, error)

	// FindByID retrieves a refresh token record by its unique ID.
	FindByID(ctx context.Context, id uuid.UUID) (*entity.RefreshToken, error)

	// MarkRotated revokes the token and links it to its successor. The update is
	// conditional on the token not being revoked yet, so under concurrent rotation
	// exactly one caller succeeds; the others receive ErrRefreshTokenRevoked.
	MarkRotated(ctx context.Context, id uuid.UUID, replacedBy uuid.UUID, at time.Time) error

	// RevokeAllByUserID revokes every live refresh token of a user and returns the
	// number of tokens revoked. Used by logout and remote session termination.
	RevokeAllByUserID(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error)

	// FindChain walks the ReplacedBy links starting from the given token and
	// returns the full rotation chain in order of issuance.
	FindChain(ctx context.Context, id uuid.UUID) ([]*entity.RefreshToken, error)

	// DeleteExpired removes expired refresh tokens and returns the number deleted.
	// This should be called periodically for cleanup.
	DeleteExpired(ctx context.Context) (int64, error)
}
