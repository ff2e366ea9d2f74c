package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bihaiyouyou/huan-yin-chao-i-website/internal/config"
)

// Cache wraps a redis client. A nil *Cache is valid and disables caching,
// so callers never need to branch on whether redis is configured.
type Cache struct {
	client *redis.Client
}

// New connects to redis using the redis section of the configuration.
// An empty address returns a nil cache and no error.
func New(ctx context.Context, cfg config.RedisConfig) (*Cache, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if errPing := client.Ping(pingCtx).Err(); errPing != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: connect redis: %w", errPing)
	}
	return &Cache{client: client}, nil
}

// Get returns the value for key, or "" when the key is absent or the
// cache is disabled.
func (c *Cache) Get(ctx context.Context, key string) string {
	if c == nil || c.client == nil {
		return ""
	}
	val, errGet := c.client.Get(ctx, key).Result()
	if errGet != nil {
		return ""
	}
	return val
}

// Set stores key with a TTL. Errors are dropped; the cache is advisory.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Set(ctx, key, value, ttl).Err()
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, key).Err()
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
