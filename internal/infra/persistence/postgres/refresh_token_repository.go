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

// maxChainLength bounds the rotation chain walk so a corrupted ReplacedBy
// cycle cannot loop forever.
const maxChainLength = 1000

// refreshTokenRepository implements the domain.RefreshTokenRepository interface.
type refreshTokenRepository struct {
	db *gorm.DB
}

// NewRefreshTokenRepository is the constructor for refreshTokenRepository.
func NewRefreshTokenRepository(db *gorm.DB) repository.RefreshTokenRepository {
	return &refreshTokenRepository{db: db}
}

// Create persists a new refresh token.
func (repo *refreshTokenRepository) Create(ctx context.Context, token *entity.RefreshToken) error {
	tokenM := fromRefreshTokenDomain(token)

	if err := repo.db.WithContext(ctx).Create(tokenM).Error; err != nil {
		if isUniqueConstraintViolation(err) {
			return domainerrors.ErrRefreshTokenInvalid.WrapMessage("refresh token already exists")
		}
		if isForeignKeyConstraintViolation(err) {
			return domainerrors.ErrUserNotFound.WrapMessage("invalid user reference")
		}
		if isNotNullConstraintViolation(err) {
			return domainerrors.NewDatabaseExecuteError(err, "missing required token information")
		}

		return domainerrors.NewDatabaseExecuteError(err, "failed to create refresh token")
	}

	token.ID = tokenM.ID
	token.CreatedAt = tokenM.CreatedAt

	return nil
}

// FindByTokenHash retrieves a refresh token record by its stored hash.
// Returns ErrRefreshTokenExpired when a live record is past its expiry;
// revoked records come back intact so callers can detect replay.
func (repo *refreshTokenRepository) FindByTokenHash(ctx context.Context, tokenHash string) (*entity.RefreshToken, error) {
	return repo.findOne(ctx, "token_hash = ?", tokenHash)
}

// FindByID retrieves a refresh token record by its unique ID.
func (repo *refreshTokenRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.RefreshToken, error) {
	return repo.findOne(ctx, "id = ?", id)
}

func (repo *refreshTokenRepository) findOne(ctx context.Context, query string, arg any) (*entity.RefreshToken, error) {
	tokenM := &model.RefreshTokenModel{}

	err := repo.db.WithContext(ctx).Where(query, arg).First(tokenM).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrRefreshTokenNotFound
		}

		return nil, errors.WithStack(err)
	}

	// Revoked records are returned as-is so callers can tell a replayed
	// token from a merely expired one; expiry only disqualifies live tokens.
	token := toRefreshTokenDomain(tokenM)
	if !token.IsRevoked && token.ExpiresAt.Before(time.Now()) {
		return nil, repository.ErrRefreshTokenExpired
	}

	return token, nil
}

// MarkRotated revokes the token and links it to its successor. The WHERE
// clause on is_revoked makes the update a compare-and-set: under concurrent
// rotation of the same token exactly one caller flips the flag, the others
// see zero rows affected and receive ErrRefreshTokenRevoked.
func (repo *refreshTokenRepository) MarkRotated(ctx context.Context, id uuid.UUID, replacedBy uuid.UUID, at time.Time) error {
	result := repo.db.WithContext(ctx).
		Model(&model.RefreshTokenModel{}).
		Where("id = ? AND is_revoked = ?", id, false).
		Updates(map[string]any{
			"is_revoked":  true,
			"revoked_at":  at,
			"replaced_by": replacedBy,
		})
	if result.Error != nil {
		return errors.WithStack(result.Error)
	}
	if result.RowsAffected == 0 {
		return repository.ErrRefreshTokenRevoked
	}

	return nil
}

// RevokeAllByUserID revokes every live refresh token of a user and returns the
// number of tokens revoked.
func (repo *refreshTokenRepository) RevokeAllByUserID(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	result := repo.db.WithContext(ctx).
		Model(&model.RefreshTokenModel{}).
		Where("user_id = ? AND is_revoked = ?", userID, false).
		Updates(map[string]any{
			"is_revoked": true,
			"revoked_at": at,
		})
	if result.Error != nil {
		return 0, errors.WithStack(result.Error)
	}

	return result.RowsAffected, nil
}

// FindChain walks the ReplacedBy links starting from the given token and
// returns the full rotation chain in order of issuance.
func (repo *refreshTokenRepository) FindChain(ctx context.Context, id uuid.UUID) ([]*entity.RefreshToken, error) {
	chain := make([]*entity.RefreshToken, 0, 4)
	next := &id

	for next != nil && len(chain) < maxChainLength {
		tokenM := &model.RefreshTokenModel{}

		err := repo.db.WithContext(ctx).Where("id = ?", *next).First(tokenM).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				if len(chain) == 0 {
					return nil, repository.ErrRefreshTokenNotFound
				}
				// Successor already cleaned up; the chain ends here.
				break
			}

			return nil, errors.WithStack(err)
		}

		chain = append(chain, toRefreshTokenDomain(tokenM))
		next = tokenM.ReplacedBy
	}

	return chain, nil
}

// DeleteExpired removes expired refresh tokens and returns the number deleted.
func (repo *refreshTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result := repo.db.WithContext(ctx).
		Where("expires_at < ?", time.Now()).
		Delete(&model.RefreshTokenModel{})
	if result.Error != nil {
		return 0, errors.WithStack(result.Error)
	}

	return result.RowsAffected, nil
}

// --- Mapper Functions ---

// toRefreshTokenDomain converts a GORM RefreshTokenModel to a domain RefreshToken entity.
func toRefreshTokenDomain(data *model.RefreshTokenModel) *entity.RefreshToken {
	if data == nil {
		return nil
	}

	return &entity.RefreshToken{
		ID:         data.ID,
		UserID:     data.UserID,
		TokenHash:  data.TokenHash,
		ExpiresAt:  data.ExpiresAt,
		IsRevoked:  data.IsRevoked,
		RevokedAt:  data.RevokedAt,
		ReplacedBy: data.ReplacedBy,
		CreatedAt:  data.CreatedAt,
	}
}

// fromRefreshTokenDomain converts a domain RefreshToken entity to a GORM RefreshTokenModel.
func fromRefreshTokenDomain(data *entity.RefreshToken) *model.RefreshTokenModel {
	if data == nil {
		return nil
	}

	return &model.RefreshTokenModel{
		ID:         data.ID,
		UserID:     data.UserID,
		TokenHash:  data.TokenHash,
		ExpiresAt:  data.ExpiresAt,
		IsRevoked:  data.IsRevoked,
		RevokedAt:  data.RevokedAt,
		ReplacedBy: data.ReplacedBy,
		CreatedAt:  data.CreatedAt,
	}
}
