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
	"gorm.io/gorm/clause"
)

// userRepository implements the domain.UserRepository interface using GORM.
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository is the constructor for userRepository.
// It returns the repository as a domain.UserRepository interface, adhering to dependency inversion.
func NewUserRepository(db *gorm.DB) repository.UserRepository {
	return &userRepository{db: db}
}

// Create persists a new user together with its role assignments. GORM's Create
// with associations inserts into users and user_roles in one statement batch,
// so inside a transaction a user never lands without its role.
func (repo *userRepository) Create(ctx context.Context, user *entity.User) error {
	userM := fromUserDomain(user)

	if err := repo.db.WithContext(ctx).Create(userM).Error; err != nil {
		if isUniqueConstraintViolation(err) {
			return repository.ErrUserDuplicate
		}
		if isNotNullConstraintViolation(err) {
			return domainerrors.ErrUserCreationFailed.WrapMessage("missing required user information")
		}
		if isForeignKeyConstraintViolation(err) {
			return domainerrors.ErrUserCreationFailed.WrapMessage("invalid reference")
		}

		return domainerrors.NewDatabaseExecuteError(err, "failed to create user")
	}

	// Propagate generated values back to the entity.
	user.ID = userM.ID
	user.CreatedAt = userM.CreatedAt
	user.UpdatedAt = userM.UpdatedAt

	return nil
}

// FindByID retrieves a user by its unique ID, including active roles.
func (repo *userRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	return repo.findOne(ctx, "id = ?", id)
}

// FindByPhone retrieves a user by its E.164 phone number, including active roles.
func (repo *userRepository) FindByPhone(ctx context.Context, phone string) (*entity.User, error) {
	return repo.findOne(ctx, "phone = ?", phone)
}

// FindByIdentityID retrieves a user by the external identity provider's user ID.
func (repo *userRepository) FindByIdentityID(ctx context.Context, identityID string) (*entity.User, error) {
	return repo.findOne(ctx, "identity_id = ?", identityID)
}

func (repo *userRepository) findOne(ctx context.Context, query string, arg any) (*entity.User, error) {
	userM := &model.UserModel{}

	err := repo.db.WithContext(ctx).
		Preload("Roles", "is_active = ?", true).
		Where(query, arg).
		First(userM).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrUserNotFound
		}

		return nil, errors.Wrap(err, "failed to find user")
	}

	return toUserDomain(userM), nil
}

// AssignRole grants a role to a user. Assigning an already-held role is a no-op.
func (repo *userRepository) AssignRole(ctx context.Context, userID uuid.UUID, role entity.Role) error {
	roleM := &model.UserRoleModel{
		UserID:   userID,
		Role:     role.String(),
		IsActive: true,
	}

	err := repo.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "role"}},
			DoUpdates: clause.Assignments(map[string]any{"is_active": true}),
		}).
		Create(roleM).Error
	if err != nil {
		if isForeignKeyConstraintViolation(err) {
			return repository.ErrUserNotFound
		}

		return domainerrors.NewDatabaseExecuteError(err, "failed to assign role")
	}

	return nil
}

// ActiveRoles returns the currently active roles of a user, read from the live
// role assignments rather than any token claim.
func (repo *userRepository) ActiveRoles(ctx context.Context, userID uuid.UUID) (entity.Roles, error) {
	var names []string

	err := repo.db.WithContext(ctx).
		Model(&model.UserRoleModel{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("created_at ASC").
		Pluck("role", &names).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to load active roles")
	}

	return entity.RolesFromStrings(names), nil
}

// UpdateLastLogin records the timestamp of the latest successful login.
func (repo *userRepository) UpdateLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error {
	result := repo.db.WithContext(ctx).
		Model(&model.UserModel{}).
		Where("id = ?", userID).
		Update("last_login_at", at)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update last login")
	}
	if result.RowsAffected == 0 {
		return repository.ErrUserNotFound
	}

	return nil
}

// UpdateProfile overwrites the provider-sourced profile columns. Blank fields
// are skipped so a provider that omits a claim cannot erase known data.
func (repo *userRepository) UpdateProfile(ctx context.Context, userID uuid.UUID, email, firstName, lastName string) error {
	updates := map[string]any{}
	if email != "" {
		updates["email"] = email
	}
	if firstName != "" {
		updates["first_name"] = firstName
	}
	if lastName != "" {
		updates["last_name"] = lastName
	}
	if len(updates) == 0 {
		return nil
	}

	result := repo.db.WithContext(ctx).
		Model(&model.UserModel{}).
		Where("id = ?", userID).
		Updates(updates)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update profile")
	}
	if result.RowsAffected == 0 {
		return repository.ErrUserNotFound
	}

	return nil
}

// LinkIdentity points an existing user at the identity provider's user ID.
func (repo *userRepository) LinkIdentity(ctx context.Context, userID uuid.UUID, identityID string) error {
	result := repo.db.WithContext(ctx).
		Model(&model.UserModel{}).
		Where("id = ?", userID).
		Update("identity_id", identityID)
	if result.Error != nil {
		if isUniqueConstraintViolation(result.Error) {
			return repository.ErrUserDuplicate
		}

		return errors.Wrap(result.Error, "failed to link identity")
	}
	if result.RowsAffected == 0 {
		return repository.ErrUserNotFound
	}

	return nil
}

// --- Mapper Functions ---
// These helpers convert between domain entities and persistence models.

// toUserDomain converts a GORM UserModel to a domain User entity.
func toUserDomain(data *model.UserModel) *entity.User {
	if data == nil {
		return nil
	}

	roles := make(entity.Roles, 0, len(data.Roles))
	for _, roleM := range data.Roles {
		if roleM.IsActive {
			roles = append(roles, entity.Role(roleM.Role))
		}
	}

	return &entity.User{
		ID:          data.ID,
		IdentityID:  data.IdentityID,
		Phone:       data.Phone,
		Email:       data.Email,
		FirstName:   data.FirstName,
		LastName:    data.LastName,
		Status:      entity.UserStatus(data.Status),
		Roles:       roles,
		LastLoginAt: data.LastLoginAt,
		CreatedAt:   data.CreatedAt,
		UpdatedAt:   data.UpdatedAt,
	}
}

// fromUserDomain converts a domain User entity to a GORM UserModel for persistence.
func fromUserDomain(data *entity.User) *model.UserModel {
	if data == nil {
		return nil
	}

	roles := make([]model.UserRoleModel, 0, len(data.Roles))
	for _, role := range data.Roles {
		roles = append(roles, model.UserRoleModel{
			UserID:   data.ID,
			Role:     role.String(),
			IsActive: true,
		})
	}

	status := data.Status
	if status == "" {
		status = entity.UserStatusActive
	}

	return &model.UserModel{
		ID:          data.ID,
		IdentityID:  data.IdentityID,
		Phone:       data.Phone,
		Email:       data.Email,
		FirstName:   data.FirstName,
		LastName:    data.LastName,
		Status:      string(status),
		LastLoginAt: data.LastLoginAt,
		Roles:       roles,
	}
}
