package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stayhub/stayhub-core/internal/pkg/logger"
)

// NewRedis connects to redisURL. An empty URL returns (nil, nil) so callers
// fall back to in-process stores.
func NewRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	l := logger.Component("database")
	if redisURL == "" {
		l.Warn().Msg("Redis URL not configured, using in-memory stores")
		return nil, nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opt.PoolSize = 20
	opt.MinIdleConns = 2
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	l.Info().Str("addr", opt.Addr).Msg("Connected to Redis")
	return client, nil
}

// CloseRedis closes the client, logging any error.
func CloseRedis(client *redis.Client) {
	if client == nil {
		return
	}
	l := logger.Component("database")
	if err := client.Close(); err != nil {
		l.Error().Err(err).Msg("Error closing Redis connection")
		return
	}
	l.Info().Msg("Redis connection closed")
}
