// Package model holds the GORM persistence models. They mirror the database
// schema and never leak past the repository layer.
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserModel mirrors the 'users' table. The identity provider owns credentials;
// this row holds the service-side profile and status.
type UserModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	IdentityID  string    `gorm:"type:varchar(255);uniqueIndex;not null"`
	Phone       string    `gorm:"type:varchar(32);uniqueIndex"`
	Email       string    `gorm:"type:varchar(255)"`
	FirstName   string    `gorm:"type:varchar(100)"`
	LastName    string    `gorm:"type:varchar(100)"`
	Status      string    `gorm:"type:varchar(20);not null;default:ACTIVE"`
	LastLoginAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Roles []UserRoleModel `gorm:"foreignKey:UserID"`
}

// TableName explicitly sets the table name for GORM.
func (UserModel) TableName() string {
	return "users"
}

// BeforeCreate assigns the primary key when the caller left it zero.
func (m *UserModel) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}

	return nil
}

// UserRoleModel mirrors the 'user_roles' table. A user holds at most one row
// per role; deactivated roles keep the row with is_active=false.
type UserRoleModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_user_roles_user_role"`
	Role      string    `gorm:"type:varchar(20);not null;uniqueIndex:idx_user_roles_user_role"`
	IsActive  bool      `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName explicitly sets the table name for GORM.
func (UserRoleModel) TableName() string {
	return "user_roles"
}

// BeforeCreate assigns the primary key when the caller left it zero.
func (m *UserRoleModel) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}

	return nil
}
