package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"authsvc/internal/domain/service"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// lockRetryWait is how long a lock-race loser waits before re-checking the
// cache once and, failing that, computing the value locally without caching.
const lockRetryWait = 100 * time.Millisecond

// keyedCache implements service.CacheService on a Redis client.
// All operations fail open: backend errors are logged and reported as misses
// or unsuccessful writes, never as errors the caller must handle.
type keyedCache struct {
	client  *redis.Client
	enabled bool
	logger  *slog.Logger
}

func newKeyedCache(client *redis.Client, enabled bool, logger *slog.Logger) service.CacheService {
	return &keyedCache{
		client:  client,
		enabled: enabled,
		logger:  logger,
	}
}

// Enabled reports whether the backend was reachable at startup.
func (c *keyedCache) Enabled() bool {
	return c.enabled
}

// Get reads the JSON value under key into dest. False means miss or backend failure.
func (c *keyedCache) Get(ctx context.Context, key string, dest any) bool {
	if !c.enabled {
		return false
	}

	raw, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.warn(ctx, "cache get failed", key, err)
		}

		return false
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		c.warn(ctx, "cache value decode failed", key, err)

		return false
	}

	return true
}

// Set stores value as JSON under key with the given TTL.
func (c *keyedCache) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	if !c.enabled {
		return false
	}

	raw, err := json.Marshal(value)
	if err != nil {
		c.warn(ctx, "cache value encode failed", key, err)

		return false
	}

	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.warn(ctx, "cache set failed", key, err)

		return false
	}

	return true
}

// Delete removes the given keys in one pipeline round trip.
func (c *keyedCache) Delete(ctx context.Context, keys ...string) bool {
	if !c.enabled {
		return false
	}
	if len(keys) == 0 {
		return true
	}

	pipe := c.client.Pipeline()
	for _, key := range keys {
		pipe.Del(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.warn(ctx, "cache delete failed", keys[0], err)

		return false
	}

	return true
}

// DeletePattern removes all keys matching pattern via SCAN. O(keyspace);
// prefer Delete with explicit keys on hot paths.
func (c *keyedCache) DeletePattern(ctx context.Context, pattern string) bool {
	if !c.enabled {
		return false
	}

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.warn(ctx, "cache scan failed", pattern, err)

			return false
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.warn(ctx, "cache delete failed", pattern, err)

				return false
			}
		}

		cursor = next
		if cursor == 0 {
			return true
		}
	}
}

// Exists reports whether key is present.
func (c *keyedCache) Exists(ctx context.Context, key string) bool {
	if !c.enabled {
		return false
	}

	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		c.warn(ctx, "cache exists failed", key, err)

		return false
	}

	return n > 0
}

// Expire resets the TTL of key.
func (c *keyedCache) Expire(ctx context.Context, key string, ttl time.Duration) bool {
	if !c.enabled {
		return false
	}

	ok, err := c.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		c.warn(ctx, "cache expire failed", key, err)

		return false
	}

	return ok
}

// TTL returns the remaining lifetime of key.
func (c *keyedCache) TTL(ctx context.Context, key string) (time.Duration, bool) {
	if !c.enabled {
		return 0, false
	}

	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		return 0, false
	}

	return ttl, true
}

// Increment atomically increases the counter under key.
func (c *keyedCache) Increment(ctx context.Context, key string) (int64, bool) {
	if !c.enabled {
		return 0, false
	}

	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		c.warn(ctx, "cache incr failed", key, err)

		return 0, false
	}

	return n, true
}

// Decrement atomically decreases the counter under key.
func (c *keyedCache) Decrement(ctx context.Context, key string) (int64, bool) {
	if !c.enabled {
		return 0, false
	}

	n, err := c.client.Decr(ctx, key).Result()
	if err != nil {
		c.warn(ctx, "cache decr failed", key, err)

		return 0, false
	}

	return n, true
}

// AcquireLock takes the lock with SET NX PX semantics.
func (c *keyedCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) bool {
	if !c.enabled {
		return false
	}

	ok, err := c.client.SetNX(ctx, LockKey(key), "1", ttl).Result()
	if err != nil {
		c.warn(ctx, "cache lock acquire failed", key, err)

		return false
	}

	return ok
}

// ReleaseLock releases a lock taken with AcquireLock.
func (c *keyedCache) ReleaseLock(ctx context.Context, key string) bool {
	if !c.enabled {
		return false
	}

	if err := c.client.Del(ctx, LockKey(key)).Err(); err != nil {
		c.warn(ctx, "cache lock release failed", key, err)

		return false
	}

	return true
}

// GetOrSet returns the cached value or fetches, stores, and returns it.
func (c *keyedCache) GetOrSet(ctx context.Context, key string, ttl time.Duration, dest any, fetch service.FetchFunc) error {
	if c.Get(ctx, key, dest) {
		return nil
	}

	value, err := fetch(ctx)
	if err != nil {
		return err
	}

	c.Set(ctx, key, value, ttl)

	return copyValue(value, dest)
}

// GetOrSetWithLock guards the fetch with a cross-instance lock so a stampede
// of concurrent misses on the same key produces a bounded number of fetches.
func (c *keyedCache) GetOrSetWithLock(ctx context.Context, key string, ttl time.Duration, dest any, fetch service.FetchFunc) error {
	if c.Get(ctx, key, dest) {
		return nil
	}

	if !c.AcquireLock(ctx, key, TTLLock) {
		// Another process is fetching. Give it a moment, re-check the cache
		// once, then compute locally without caching rather than queueing up.
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-time.After(lockRetryWait):
		}

		if c.Get(ctx, key, dest) {
			return nil
		}

		value, err := fetch(ctx)
		if err != nil {
			return err
		}

		return copyValue(value, dest)
	}
	defer c.ReleaseLock(ctx, key)

	// Double-check after winning the lock; a racer may have populated the key.
	if c.Get(ctx, key, dest) {
		return nil
	}

	value, err := fetch(ctx)
	if err != nil {
		return err
	}

	c.Set(ctx, key, value, ttl)

	return copyValue(value, dest)
}

// copyValue moves a fetched value into the caller's destination through the
// same JSON codec used for storage, so cached and fresh reads are shaped alike.
func copyValue(value, dest any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(json.Unmarshal(raw, dest))
}

func (c *keyedCache) warn(ctx context.Context, msg, key string, err error) {
	c.logger.LogAttrs(ctx, slog.LevelWarn, msg,
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
}
