// Package entity contains the core business objects of the project,
// each representing a unique, identifiable concept within the domain.
package entity

import (
	"time"

	"github.com/google/uuid"
)

// UserStatus represents the lifecycle state of a user account.
type UserStatus string

const (
	// UserStatusActive allows the user to authenticate and obtain tokens.
	UserStatusActive UserStatus = "ACTIVE"
	// UserStatusInactive blocks token issuance until the account is re-enabled.
	UserStatusInactive UserStatus = "INACTIVE"
	// UserStatusSuspended blocks token issuance after an administrative action.
	UserStatusSuspended UserStatus = "SUSPENDED"
)

// User is the core entity of the system, representing one authenticated person.
// Identity verification (phone OTP, OAuth) is delegated to the external identity
// provider; IdentityID links this record to the provider's user.
type User struct {
	ID          uuid.UUID  // The unique identifier for the user.
	IdentityID  string     // The user's ID at the external identity provider.
	Phone       string     // E.164 phone number, the primary login identifier.
	Email       string     // Optional email, populated by OAuth logins.
	FirstName   string     // The user's given name.
	LastName    string     // The user's family name.
	Status      UserStatus // Account lifecycle state, checked before any token issuance.
	Roles       Roles      // Active roles, loaded from the user_roles table.
	LastLoginAt *time.Time // Timestamp of the most recent successful login.
	CreatedAt   time.Time  // Timestamp of when this user account was created.
	UpdatedAt   time.Time  // Timestamp of the last modification to this user's data.
}

// IsActive reports whether the account may receive tokens.
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}

// PrimaryRole returns the highest-ranked active role, defaulting to rider.
func (u *User) PrimaryRole() Role {
	return u.Roles.Highest()
}
