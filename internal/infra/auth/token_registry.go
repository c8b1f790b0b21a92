package auth

import (
	"context"

	"authsvc/internal/domain/service"
	"authsvc/internal/infra/cache"

	"github.com/pkg/errors"
)

// tokenRegistry implements service.TokenRegistry on the keyed cache.
// Registry state is advisory by design: when the cache is down, blacklist
// checks report "not revoked" and decode-cache checks report misses, so
// authentication stays available at the cost of delayed revocation.
type tokenRegistry struct {
	cache  service.CacheService
	tokens service.TokenService
}

// NewTokenRegistry is the constructor for tokenRegistry.
func NewTokenRegistry(cacheSvc service.CacheService, tokenSvc service.TokenService) service.TokenRegistry {
	return &tokenRegistry{
		cache:  cacheSvc,
		tokens: tokenSvc,
	}
}

// Blacklist revokes an access token ahead of its natural expiry. The entry
// TTL covers the maximum access token lifetime, so the entry always outlives
// the token it revokes.
func (r *tokenRegistry) Blacklist(ctx context.Context, token string) error {
	hash := r.tokens.HashToken(token)
	if !r.cache.Set(ctx, cache.BlacklistKey(hash), true, cache.TTLBlacklist) {
		return errors.New("failed to write blacklist entry")
	}

	return nil
}

// IsBlacklisted reports whether the token has been revoked.
func (r *tokenRegistry) IsBlacklisted(ctx context.Context, token string) bool {
	hash := r.tokens.HashToken(token)

	return r.cache.Exists(ctx, cache.BlacklistKey(hash))
}

// CacheDecoded stores verified claims under the token hash.
func (r *tokenRegistry) CacheDecoded(ctx context.Context, token string, claims *service.AccessClaims) {
	hash := r.tokens.HashToken(token)
	r.cache.Set(ctx, cache.DecodedTokenKey(hash), claims, cache.TTLDecodedToken)
}

// DecodedClaims returns previously cached claims for the token, if any.
func (r *tokenRegistry) DecodedClaims(ctx context.Context, token string) (*service.AccessClaims, bool) {
	hash := r.tokens.HashToken(token)

	claims := &service.AccessClaims{}
	if !r.cache.Get(ctx, cache.DecodedTokenKey(hash), claims) {
		return nil, false
	}

	return claims, true
}

// InvalidateDecoded drops the cached claims for the token.
func (r *tokenRegistry) InvalidateDecoded(ctx context.Context, token string) {
	hash := r.tokens.HashToken(token)
	r.cache.Delete(ctx, cache.DecodedTokenKey(hash))
}
