package service

import "context"

// TokenRegistry tracks access token state that lives outside the token itself:
// the revocation blacklist and the decoded-claims cache.
//
// Both sides fail open on cache unavailability: a blacklist miss means the
// token is treated as live, and a decode-cache miss falls back to full
// signature verification.
type TokenRegistry interface {
	// Blacklist revokes an access token ahead of its natural expiry.
	// The entry outlives the longest possible token lifetime.
	Blacklist(ctx context.Context, token string) error

	// IsBlacklisted reports whether the token has been revoked.
	// Returns false when the registry backend is unavailable.
	IsBlacklisted(ctx context.Context, token string) bool

	// CacheDecoded stores verified claims so subsequent requests skip signature
	// verification until the entry expires.
	CacheDecoded(ctx context.Context, token string, claims *AccessClaims)

	// DecodedClaims returns previously cached claims for the token, if any.
	DecodedClaims(ctx context.Context, token string) (*AccessClaims, bool)

	// InvalidateDecoded drops the cached claims for the token.
	InvalidateDecoded(ctx context.Context, token string)
}
