package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lumina-bi/lumina-engine/pkg/config"
)

// NewRedisClient creates the Redis client backing the ephemeral cache tier.
// Returns nil if Redis is not configured (host is empty); callers fall back
// to the in-process cache in that case.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	if cfg.Host == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}
