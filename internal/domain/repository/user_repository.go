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

// Domain-specific errors for user persistence.
var (
	// ErrUserNotFound is returned when a user record does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserDuplicate is returned when a unique constraint (phone, identity ID) is violated.
	ErrUserDuplicate = errors.New("user already exists")
)

// UserRepository defines the interface for user account persistence.
type UserRepository interface {
	// Create persists a new user together with its role assignments.
	// Both must land in the same transaction so a user never exists without a role.
	Create(ctx context.Context, user *entity.User) error

	// FindByID retrieves a user by its unique ID, including active roles.
	FindByID(ctx context.Context, id uuid.UUID) (*entity.User, error)

	// FindByPhone retrieves a user by its E.164 phone number, including active roles.
	FindByPhone(ctx context.Context, phone string) (*entity.User, error)

	// FindByIdentityID retrieves a user by the external identity provider's user ID.
	FindByIdentityID(ctx context.Context, identityID string) (*entity.User, error)

	// AssignRole grants a role to a user. Assigning an already-held role is a no-op.
	AssignRole(ctx context.Context, userID uuid.UUID, role entity.Role) error

	// ActiveRoles returns the currently active roles of a user, read from the
	// live role assignments rather than any token claim.
	ActiveRoles(ctx context.Context, userID uuid.UUID) (entity.Roles, error)

	// UpdateLastLogin records the timestamp of the latest successful login.
	UpdateLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error

	// UpdateProfile overwrites the profile fields sourced from the identity
	// provider (email, name). Blank incoming fields leave the column untouched.
	UpdateProfile(ctx context.Context, userID uuid.UUID, email, firstName, lastName string) error

	// LinkIdentity points an existing user at the identity provider's user ID,
	// used when a known phone number authenticates under a new identity.
	LinkIdentity(ctx context.Context, userID uuid.UUID, identityID string) error
}
