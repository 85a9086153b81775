package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/relaydev/relay/common/logger"
)

// Redis is a Cache backed by a shared Redis instance.
type Redis struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, addr, password string, log *logger.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}

	log.Info("connected to redis", "addr", addr)
	return &Redis{client: client, log: log}, nil
}

// Get retrieves a value; a missing key is not an error.
func (c *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		c.log.Error("redis GET failed", "key", key, "error", err)
		return nil, false, fmt.Errorf("get key %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores a value with a TTL.
func (c *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.log.Error("redis SET failed", "key", key, "error", err)
		return fmt.Errorf("set key %s: %w", key, err)
	}
	return nil
}

// Delete removes a key.
func (c *Redis) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.log.Error("redis DEL failed", "key", key, "error", err)
		return fmt.Errorf("delete key %s: %w", key, err)
	}
	return nil
}

// Close releases the connection pool.
func (c *Redis) Close() error {
	return c.client.Close()
}
