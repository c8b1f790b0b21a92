package middleware

import (
	"log/slog"
	"strconv"
	"time"

	"authsvc/config"
	domainerrors "authsvc/internal/domain/errors"
	"authsvc/internal/domain/service"
	"authsvc/internal/infra/cache"

	"github.com/labstack/echo/v4"
)

// RateLimitMiddleware enforces fixed-window request limits keyed by client IP
// and route. Counters live in the shared cache so limits hold across
// instances; when the cache is down the limiter fails open.
type RateLimitMiddleware struct {
	cache  service.CacheService
	logger *slog.Logger
}

// NewRateLimitMiddleware creates a new rate limiting middleware
func NewRateLimitMiddleware(cacheSvc service.CacheService, logger *slog.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		cache:  cacheSvc,
		logger: logger,
	}
}

// Limit returns a middleware enforcing the given rule under the given key prefix.
func (m *RateLimitMiddleware) Limit(prefix string, rule config.RateLimitRule) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			key := cache.RateLimitKey(prefix, c.RealIP(), c.Path())

			count, ok := m.cache.Increment(ctx, key)
			if !ok {
				// Cache unavailable. Availability wins over throttling.
				return next(c)
			}

			// First hit of the window starts its clock.
			if count == 1 {
				m.cache.Expire(ctx, key, rule.Window)
			}

			if count > int64(rule.Max) {
				m.setRetryAfter(c, key, rule.Window)

				return domainerrors.ErrRateLimitExceeded
			}

			err := next(c)

			// Refund the slot when the rule only counts one outcome.
			if m.shouldRefund(rule, c, err) {
				m.cache.Decrement(ctx, key)
			}

			return err
		}
	}
}

func (m *RateLimitMiddleware) shouldRefund(rule config.RateLimitRule, c echo.Context, err error) bool {
	failed := err != nil || c.Response().Status >= 400

	if rule.SkipSuccessful && !failed {
		return true
	}

	return rule.SkipFailed && failed
}

// setRetryAfter derives the Retry-After header from the counter's remaining TTL.
func (m *RateLimitMiddleware) setRetryAfter(c echo.Context, key string, window time.Duration) {
	retryAfter := window
	if ttl, ok := m.cache.TTL(c.Request().Context(), key); ok && ttl > 0 {
		retryAfter = ttl
	}

	seconds := int64(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	c.Response().Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
}
