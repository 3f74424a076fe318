package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"facecraft/internal/config"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "facecraft:result:"

// ResultCache maps a content hash of upload bytes and options to the job
// that already processed them.
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewResultCache(cfg config.Redis, ttl time.Duration) *ResultCache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &ResultCache{
		client: client,
		ttl:    ttl,
	}
}

func (c *ResultCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// GetJobID returns "" on a miss.
func (c *ResultCache) GetJobID(ctx context.Context, hash string) (string, error) {
	id, err := c.client.Get(ctx, keyPrefix+hash).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read cache: %w", err)
	}
	return id, nil
}

func (c *ResultCache) SetJobID(ctx context.Context, hash, jobID string) error {
	if err := c.client.Set(ctx, keyPrefix+hash, jobID, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

func (c *ResultCache) Forget(ctx context.Context, hash string) error {
	if err := c.client.Del(ctx, keyPrefix+hash).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (c *ResultCache) Close() error {
	return c.client.Close()
}
