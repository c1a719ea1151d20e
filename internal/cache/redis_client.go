package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Remote = (*RedisClient)(nil)

// RedisClient is the optional remote tier of the orchestration cache
type RedisClient struct {
	client *redis.Client
	logger *slog.Logger
	prefix string
	ttl    time.Duration
}

// NewRedisClient connects to addr and verifies connectivity
func NewRedisClient(ctx context.Context, addr, password, prefix string, ttl time.Duration) (*RedisClient, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address missing")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	logger := slog.Default().With("component", "redis")
	logger.Info("redis client connected", "addr", addr)

	return &RedisClient{
		client: client,
		logger: logger,
		prefix: prefix,
		ttl:    ttl,
	}, nil
}

// Close closes the connection
func (c *RedisClient) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	c.logger.Info("redis client closed")
	return nil
}

// HealthCheck verifies connectivity
func (c *RedisClient) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Get unmarshals the cached value into target. A miss is not an error.
func (c *RedisClient) Get(ctx context.Context, key string, target interface{}) (bool, error) {
	full := RemoteKey(c.prefix, key)
	val, err := c.client.Get(ctx, full).Bytes()
	if err == redis.Nil {
		c.logger.Debug("cache miss", "key", full)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get failed for key %s: %w", full, err)
	}

	if err := json.Unmarshal(val, target); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value for key %s: %w", full, err)
	}

	c.logger.Debug("cache hit", "key", full)
	return true, nil
}

// SetWithTTL stores value as JSON. A non-positive ttl uses the client default.
func (c *RedisClient) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for key %s: %w", key, err)
	}

	full := RemoteKey(c.prefix, key)
	if err := c.client.Set(ctx, full, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed for key %s: %w", full, err)
	}

	c.logger.Debug("cache set", "key", full, "ttl", ttl)
	return nil
}

// Delete removes a key
func (c *RedisClient) Delete(ctx context.Context, key string) error {
	full := RemoteKey(c.prefix, key)
	if err := c.client.Del(ctx, full).Err(); err != nil {
		return fmt.Errorf("redis delete failed for key %s: %w", full, err)
	}
	return nil
}

// Clear deletes every key under the client prefix
func (c *RedisClient) Clear(ctx context.Context) (int64, error) {
	pattern := RemoteKey(c.prefix, "*")

	var cursor uint64
	var keys []string
	for {
		var batch []string
		var err error
		batch, cursor, err = c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan failed for pattern %s: %w", pattern, err)
		}
		keys = append(keys, batch...)
		if cursor == 0 {
			break
		}
	}

	if len(keys) == 0 {
		return 0, nil
	}

	deleted, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis delete failed for pattern %s: %w", pattern, err)
	}

	c.logger.Info("cache cleared", "pattern", pattern, "deleted", deleted)
	return deleted, nil
}

// RemoteKey builds "prefix:key"; an empty prefix leaves key unchanged
func RemoteKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return fmt.Sprintf("%s:%s", prefix, key)
}
