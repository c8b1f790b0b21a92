package service

import (
	"context"
	"time"
)

// Auth event types published to downstream services.
const (
	EventUserRegistered = "user.registered"
	EventUserLoggedIn   = "user.logged_in"
	EventUserLoggedOut  = "user.logged_out"
	EventTokenRefreshed = "token.refreshed"
)

// AuthEvent describes a state change in the authentication domain.
// Events are fire-and-forget: publishing failures are logged, never
// surfaced to the user-facing flow.
type AuthEvent struct {
	EventID    string    `json:"eventId"`
	Type       string    `json:"type"`
	UserID     string    `json:"userId"`
	Phone      string    `json:"phone,omitempty"`
	Role       string    `json:"role,omitempty"`
	RequestID  string    `json:"requestId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// EventPublisher defines the interface for publishing auth events.
type EventPublisher interface {
	// PublishAuthEvent publishes a single auth event.
	PublishAuthEvent(ctx context.Context, event *AuthEvent) error

	// Close releases publisher resources.
	Close() error
}
