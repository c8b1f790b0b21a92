// Package entity contains the core business objects of the project,
// each representing a unique, identifiable concept within the domain.
package entity

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken represents a long-lived credential used to obtain a new access
// token. Rotation marks the old record revoked and links it to its successor
// through ReplacedBy, so the full chain of a session stays traceable.
type RefreshToken struct {
	ID         uuid.UUID  // The unique ID for this specific refresh token record.
	UserID     uuid.UUID  // Links this token to the User it belongs to.
	TokenHash  string     // SHA-256 hash of the raw refresh token; the raw value is never stored.
	ExpiresAt  time.Time  // The exact time when this refresh token becomes invalid.
	IsRevoked  bool       // Set on rotation or logout; a revoked token must never rotate again.
	RevokedAt  *time.Time // Timestamp of revocation, nil while the token is live.
	ReplacedBy *uuid.UUID // ID of the token issued in exchange for this one during rotation.
	CreatedAt  time.Time  // Timestamp of when this token was issued.
}

// Active reports whether the token may still be exchanged at the given time.
func (t *RefreshToken) Active(now time.Time) bool {
	return !t.IsRevoked && t.ExpiresAt.After(now)
}

// Session records one issued access token for audit and bulk revocation.
type Session struct {
	ID        uuid.UUID  // The unique ID for this session record.
	UserID    uuid.UUID  // Links this session to the User it belongs to.
	TokenHash string     // Truncated SHA-256 hash of the access token this session was opened with.
	IPAddress string     // Client IP captured at login.
	UserAgent string     // Client user agent captured at login.
	ExpiresAt time.Time  // The time after which this session no longer counts as active.
	IsActive  bool       // Cleared on logout or bulk revocation.
	RevokedAt *time.Time // Timestamp of revocation, nil while the session is live.
	CreatedAt time.Time  // Timestamp of when this session was opened.
}
