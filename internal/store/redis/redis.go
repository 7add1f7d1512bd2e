// Package redis provides a Redis-backed store.Cache for deployments that
// share the prompt cache and budget counters across several runtimes. The
// SQL cache remains the default; nothing else in the store moves to Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/olympus-org/olympus/internal/core"
	"github.com/olympus-org/olympus/internal/store"
)

// Config selects the Redis endpoint. URL wins when both are set.
type Config struct {
	URL       string
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Cache implements store.Cache on a Redis client. Counter keys written by
// CacheAdd hold a bare number (INCRBYFLOAT), every other key a JSON
// envelope; CacheGet understands both.
type Cache struct {
	client *redis.Client
	prefix string
}

var _ store.Cache = (*Cache)(nil)

// envelope is the stored form of a CachePut value.
type envelope struct {
	Value     json.RawMessage `json:"value"`
	Meta      map[string]any  `json:"meta,omitempty"`
	CreatedAt int64           `json:"created_at"`
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "olympus:"
	}
	return &Cache{client: client, prefix: prefix}, nil
}

// Close releases the client's connections.
func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) key(k string) string {
	return c.prefix + k
}

// CacheGet implements store.Cache. Redis owns expiry, so a hit is always
// live; ExpiresAt is reconstructed from the remaining TTL.
func (c *Cache) CacheGet(ctx context.Context, key string) (*store.CacheItem, error) {
	var (
		getCmd *redis.StringCmd
		ttlCmd *redis.DurationCmd
	)
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		getCmd = pipe.Get(ctx, c.key(key))
		ttlCmd = pipe.PTTL(ctx, c.key(key))
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", store.ErrCacheMiss, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache key %s: %w", key, err)
	}

	raw := []byte(getCmd.Val())
	item := &store.CacheItem{Key: key}
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.CreatedAt != 0 {
		item.Value = env.Value
		item.Meta = env.Meta
		item.CreatedAt = env.CreatedAt
	} else {
		// Bare counter written by CacheAdd.
		item.Value = json.RawMessage(raw)
	}
	if ttl := ttlCmd.Val(); ttl > 0 {
		exp := core.NowMillis() + ttl.Milliseconds()
		item.ExpiresAt = &exp
	}
	return item, nil
}

// CachePut implements store.Cache.
func (c *Cache) CachePut(ctx context.Context, key string, value any, ttl time.Duration, meta map[string]any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	env := envelope{
		Value:     raw,
		Meta:      meta,
		CreatedAt: core.NowMillis(),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal cache envelope: %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, c.key(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache key %s: %w", key, err)
	}
	return nil
}

// CacheDelete implements store.Cache.
func (c *Cache) CacheDelete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache key %s: %w", key, err)
	}
	return nil
}

// CacheAdd implements store.Cache with INCRBYFLOAT, so concurrent runtimes
// sharing one Redis accumulate correctly. The TTL is attached only when the
// key has none yet, keeping the window anchored at first spend.
func (c *Cache) CacheAdd(ctx context.Context, key string, delta float64, ttl time.Duration) (float64, error) {
	total, err := c.client.IncrByFloat(ctx, c.key(key), delta).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment cache key %s: %w", key, err)
	}
	if ttl > 0 {
		if err := c.client.ExpireNX(ctx, c.key(key), ttl).Err(); err != nil {
			return 0, fmt.Errorf("failed to set expiry on cache key %s: %w", key, err)
		}
	}
	return total, nil
}
