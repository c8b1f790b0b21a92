package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"authsvc/internal/domain/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (service.CacheService, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return newKeyedCache(client, true, slog.New(slog.DiscardHandler)), mr
}

func TestKeyedCache_SetAndGet(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	type snapshot struct {
		ID    string `json:"id"`
		Phone string `json:"phone"`
	}

	ok := cache.Set(ctx, UserKey("u1"), snapshot{ID: "u1", Phone: "+886912345678"}, TTLUserData)
	require.True(t, ok)

	var got snapshot
	require.True(t, cache.Get(ctx, UserKey("u1"), &got))
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, "+886912345678", got.Phone)

	// Miss on an absent key
	assert.False(t, cache.Get(ctx, UserKey("absent"), &got))
}

func TestKeyedCache_DisabledFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cache := newKeyedCache(client, false, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	assert.False(t, cache.Enabled())
	assert.False(t, cache.Set(ctx, "k", "v", time.Minute))

	var dest string
	assert.False(t, cache.Get(ctx, "k", &dest))
	assert.False(t, cache.Exists(ctx, "k"))

	_, ok := cache.Increment(ctx, "counter")
	assert.False(t, ok)

	// Fetchers still run even though nothing is cached.
	var got int
	err := cache.GetOrSetWithLock(ctx, "k", time.Minute, &got, func(context.Context) (any, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestKeyedCache_DeleteBatchAndPattern(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	cache.Set(ctx, UserKey("u1"), "a", time.Minute)
	cache.Set(ctx, UserPhoneKey("+886900000001"), "b", time.Minute)
	cache.Set(ctx, OTPAttemptsKey("+886900000001"), 3, time.Minute)

	require.True(t, cache.Delete(ctx, UserKey("u1"), UserPhoneKey("+886900000001")))
	assert.False(t, cache.Exists(ctx, UserKey("u1")))
	assert.False(t, cache.Exists(ctx, UserPhoneKey("+886900000001")))
	assert.True(t, cache.Exists(ctx, OTPAttemptsKey("+886900000001")))

	require.True(t, cache.DeletePattern(ctx, "otp:*"))
	assert.False(t, cache.Exists(ctx, OTPAttemptsKey("+886900000001")))
}

func TestKeyedCache_IncrementWithExpiry(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	key := OTPAttemptsKey("+886911111111")

	n, ok := cache.Increment(ctx, key)
	require.True(t, ok)
	assert.Equal(t, int64(1), n)
	require.True(t, cache.Expire(ctx, key, 15*time.Minute))

	n, ok = cache.Increment(ctx, key)
	require.True(t, ok)
	assert.Equal(t, int64(2), n)

	ttl, ok := cache.TTL(ctx, key)
	require.True(t, ok)
	assert.Greater(t, ttl, time.Duration(0))

	// The window lapses and the counter starts fresh.
	mr.FastForward(16 * time.Minute)
	n, ok = cache.Increment(ctx, key)
	require.True(t, ok)
	assert.Equal(t, int64(1), n)
}

func TestKeyedCache_Locks(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.True(t, cache.AcquireLock(ctx, "user:u1", TTLLock))
	assert.False(t, cache.AcquireLock(ctx, "user:u1", TTLLock))

	require.True(t, cache.ReleaseLock(ctx, "user:u1"))
	assert.True(t, cache.AcquireLock(ctx, "user:u1", TTLLock))
}

func TestKeyedCache_GetOrSetWithLock_BoundsFetches(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	var fetches atomic.Int64
	fetch := func(context.Context) (any, error) {
		fetches.Add(1)
		time.Sleep(10 * time.Millisecond)

		return map[string]string{"id": "u1"}, nil
	}

	const workers = 8
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			var dest map[string]string
			err := cache.GetOrSetWithLock(ctx, UserKey("u1"), TTLUserData, &dest, fetch)
			assert.NoError(t, err)
			assert.Equal(t, "u1", dest["id"])
		}()
	}
	wg.Wait()

	// One winner fetches and populates; losers either hit the populated cache
	// after the wait or compute locally. Never one fetch per caller racing
	// unbounded against the backend.
	assert.GreaterOrEqual(t, fetches.Load(), int64(1))
	assert.Less(t, fetches.Load(), int64(workers))

	// Subsequent reads are pure cache hits.
	before := fetches.Load()
	var dest map[string]string
	require.NoError(t, cache.GetOrSetWithLock(ctx, UserKey("u1"), TTLUserData, &dest, fetch))
	assert.Equal(t, before, fetches.Load())
}

func TestKeyedCache_GetOrSet_PopulatesOnce(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	calls := 0
	fetch := func(context.Context) (any, error) {
		calls++

		return "value", nil
	}

	var got string
	require.NoError(t, cache.GetOrSet(ctx, "k", time.Minute, &got, fetch))
	require.NoError(t, cache.GetOrSet(ctx, "k", time.Minute, &got, fetch))
	assert.Equal(t, "value", got)
	assert.Equal(t, 1, calls)
}
