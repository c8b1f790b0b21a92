package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RefreshTokenModel mirrors the 'refresh_tokens' table. Only the hash of the
// opaque token is stored. ReplacedBy links each rotated-out token to its
// successor so a session's rotation chain can be walked for audit.
type RefreshTokenModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID     uuid.UUID `gorm:"type:uuid;not null;index"`
	TokenHash  string    `gorm:"type:varchar(64);uniqueIndex;not null"`
	ExpiresAt  time.Time `gorm:"not null;index"`
	IsRevoked  bool      `gorm:"not null;default:false"`
	RevokedAt  *time.Time
	ReplacedBy *uuid.UUID `gorm:"type:uuid"`
	CreatedAt  time.Time
}

// TableName explicitly sets the table name for GORM.
func (RefreshTokenModel) TableName() string {
	return "refresh_tokens"
}

// BeforeCreate assigns the primary key when the caller left it zero.
func (m *RefreshTokenModel) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}

	return nil
}

// SessionModel mirrors the 'sessions' table, one row per device login.
type SessionModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index"`
	TokenHash string    `gorm:"type:varchar(64);index"`
	IPAddress string    `gorm:"type:varchar(45)"`
	UserAgent string    `gorm:"type:varchar(512)"`
	ExpiresAt time.Time `gorm:"not null;index"`
	IsActive  bool      `gorm:"not null;default:true"`
	RevokedAt *time.Time
	CreatedAt time.Time
}

// TableName explicitly sets the table name for GORM.
func (SessionModel) TableName() string {
	return "sessions"
}

// BeforeCreate assigns the primary key when the caller left it zero.
func (m *SessionModel) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}

	return nil
}
