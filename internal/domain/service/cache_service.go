package service

import (
	"context"
	"time"
)

// FetchFunc loads a value from the source of truth on a cache miss.
type FetchFunc func(ctx context.Context) (any, error)

// CacheService defines the keyed cache used across the service: user snapshots,
// decoded token claims, OTP counters, rate-limit windows, and cross-instance locks.
//
// The cache is an optimization, never an availability dependency. Implementations
// fail open: when the backing store is unreachable, reads behave as misses and
// writes report failure without returning an error to the caller.
type CacheService interface {
	// Enabled reports whether the backing store was reachable at startup.
	Enabled() bool

	// Get reads the value under key into dest (JSON-decoded).
	// The boolean result is false on a miss or when the cache is unavailable.
	Get(ctx context.Context, key string, dest any) bool

	// Set stores value (JSON-encoded) under key with the given TTL.
	Set(ctx context.Context, key string, value any, ttl time.Duration) bool

	// Delete removes the given keys. Returns false only on backend failure.
	Delete(ctx context.Context, keys ...string) bool

	// DeletePattern removes all keys matching a glob pattern via cursor scans.
	// It is O(keyspace) on the backend; prefer Delete with explicit keys.
	DeletePattern(ctx context.Context, pattern string) bool

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) bool

	// Expire resets the TTL of key.
	Expire(ctx context.Context, key string, ttl time.Duration) bool

	// TTL returns the remaining lifetime of key.
	TTL(ctx context.Context, key string) (time.Duration, bool)

	// Increment atomically increases the integer value under key by one.
	Increment(ctx context.Context, key string) (int64, bool)

	// Decrement atomically decreases the integer value under key by one.
	Decrement(ctx context.Context, key string) (int64, bool)

	// AcquireLock takes a short-lived cross-instance lock. Returns false when
	// the lock is already held or the cache is unavailable.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) bool

	// ReleaseLock releases a lock taken with AcquireLock.
	ReleaseLock(ctx context.Context, key string) bool

	// GetOrSet returns the cached value under key, or invokes fetch, stores the
	// result with the given TTL, and returns it. The result lands in dest.
	GetOrSet(ctx context.Context, key string, ttl time.Duration, dest any, fetch FetchFunc) error

	// GetOrSetWithLock behaves like GetOrSet but guards the fetch with a
	// cross-instance lock so concurrent misses on the same key trigger a
	// bounded number of fetches. Losers of the lock race re-check the cache
	// once after a short wait and otherwise fall back to computing the value
	// locally without caching it.
	GetOrSetWithLock(ctx context.Context, key string, ttl time.Duration, dest any, fetch FetchFunc) error
}
