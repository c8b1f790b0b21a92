// Package postgres contains the concrete implementation of the persistence layer using GORM and PostgreSQL.
package postgres

import (
	"context"
	"time"

	"authsvc/internal/domain/entity"
	domainerrors "authsvc/internal/domain/errors"
	"authsvc/internal/domain/repository"
	"authsvc/internal/infra/persistence/model"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// sessionRepository implements the domain.SessionRepository interface.
type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository is the constructor for sessionRepository.
func NewSessionRepository(db *gorm.DB) repository.SessionRepository {
	return &sessionRepository{db: db}
}

// Create persists a new session record.
func (repo *sessionRepository) Create(ctx context.Context, session *entity.Session) error {
	sessionM := fromSessionDomain(session)

	if err := repo.db.WithContext(ctx).Create(sessionM).Error; err != nil {
		if isForeignKeyConstraintViolation(err) {
			return domainerrors.ErrUserNotFound.WrapMessage("invalid user reference")
		}

		return domainerrors.NewDatabaseExecuteError(err, "failed to create session")
	}

	session.ID = sessionM.ID
	session.CreatedAt = sessionM.CreatedAt

	return nil
}

// FindActiveByUserID retrieves all active, non-expired sessions for a user,
// newest first.
func (repo *sessionRepository) FindActiveByUserID(ctx context.Context, userID uuid.UUID) ([]*entity.Session, error) {
	var sessionModels []*model.SessionModel

	err := repo.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ? AND expires_at > ?", userID, true, time.Now()).
		Order("created_at DESC").
		Find(&sessionModels).Error
	if err != nil {
		return nil, errors.WithStack(err)
	}

	sessions := make([]*entity.Session, 0, len(sessionModels))
	for _, sessionM := range sessionModels {
		sessions = append(sessions, toSessionDomain(sessionM))
	}

	return sessions, nil
}

// RevokeAllByUserID deactivates every active session of a user and returns
// the number of sessions revoked.
func (repo *sessionRepository) RevokeAllByUserID(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	result := repo.db.WithContext(ctx).
		Model(&model.SessionModel{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Updates(map[string]any{
			"is_active":  false,
			"revoked_at": at,
		})
	if result.Error != nil {
		return 0, errors.WithStack(result.Error)
	}

	return result.RowsAffected, nil
}

// DeleteExpired removes expired sessions and returns the number deleted.
func (repo *sessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result := repo.db.WithContext(ctx).
		Where("expires_at < ?", time.Now()).
		Delete(&model.SessionModel{})
	if result.Error != nil {
		return 0, errors.WithStack(result.Error)
	}

	return result.RowsAffected, nil
}

// --- Mapper Functions ---

// toSessionDomain converts a GORM SessionModel to a domain Session entity.
func toSessionDomain(data *model.SessionModel) *entity.Session {
	if data == nil {
		return nil
	}

	return &entity.Session{
		ID:        data.ID,
		UserID:    data.UserID,
		TokenHash: data.TokenHash,
		IPAddress: data.IPAddress,
		UserAgent: data.UserAgent,
		ExpiresAt: data.ExpiresAt,
		IsActive:  data.IsActive,
		RevokedAt: data.RevokedAt,
		CreatedAt: data.CreatedAt,
	}
}

// fromSessionDomain converts a domain Session entity to a GORM SessionModel.
func fromSessionDomain(data *entity.Session) *model.SessionModel {
	if data == nil {
		return nil
	}

	return &model.SessionModel{
		ID:        data.ID,
		UserID:    data.UserID,
		TokenHash: data.TokenHash,
		IPAddress: data.IPAddress,
		UserAgent: data.UserAgent,
		ExpiresAt: data.ExpiresAt,
		IsActive:  data.IsActive,
		RevokedAt: data.RevokedAt,
		CreatedAt: data.CreatedAt,
	}
}
