// Package cache implements the keyed cache on Redis.
package cache

import (
	"context"
	"log/slog"
	"net"

	"authsvc/config"
	"authsvc/internal/domain/lifecycle"
	"authsvc/internal/domain/service"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// Params defines the required parameters
type Params struct {
	fx.In
	fx.Lifecycle

	Config *config.Config
	Logger *slog.Logger
}

// New creates the Redis-backed CacheService. The backend is probed once at
// construction; when unreachable the service comes up in disabled mode and
// every operation degrades to a miss, keeping authentication available
// without the cache.
func New(params Params) (service.CacheService, error) {
	cfg := params.Config.Redis
	if cfg == nil {
		return nil, errors.New("redis configuration is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	probeCtx, cancel := context.WithTimeout(context.Background(), lifecycle.DefaultTimeout)
	defer cancel()

	enabled := true
	if err := client.Ping(probeCtx).Err(); err != nil {
		enabled = false
		params.Logger.Warn("Redis unreachable, cache disabled for this process",
			slog.String("addr", net.JoinHostPort(cfg.Host, cfg.Port)),
			slog.Any("error", err),
		)
	}

	params.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return client.Close()
		},
	})

	return newKeyedCache(client, enabled, params.Logger), nil
}

// NewWithClient wraps an existing Redis client. For tests and tools that
// manage the client lifecycle themselves.
func NewWithClient(client *redis.Client, enabled bool, logger *slog.Logger) service.CacheService {
	return newKeyedCache(client, enabled, logger)
}
