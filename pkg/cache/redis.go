package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis address (host:port).
	Addr string

	// Password for Redis authentication.
	Password string

	// DB is the Redis database number.
	DB int

	// KeyPrefix is prepended to all keys.
	KeyPrefix string

	// DefaultTTL is the default expiration for keys.
	DefaultTTL time.Duration

	// PoolSize is the connection pool size.
	PoolSize int

	// DialTimeout is the connection timeout.
	DialTimeout time.Duration

	// OpTimeout bounds every individual cache operation. After it
	// elapses, a Get is a miss and a Set/Delete is a no-op.
	OpTimeout time.Duration
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:        "localhost:6379",
		DB:          0,
		KeyPrefix:   "tw:cache:",
		DefaultTTL:  time.Hour,
		PoolSize:    10,
		DialTimeout: 5 * time.Second,
		OpTimeout:   250 * time.Millisecond,
	}
}

var _ Remote = (*RedisCache)(nil)

// RedisCache implements Store against a Redis backend. It is a
// best-effort tier: every operation tolerates backend unavailability.
// Failures are logged and counted, never returned beyond a miss/no-op.
type RedisCache struct {
	client *redis.Client
	cfg    RedisConfig
	log    *slog.Logger
	stats  Stats
}

// NewRedisCache connects to Redis and verifies the connection. The
// client owns the pool for the process lifetime; Close releases it.
func NewRedisCache(ctx context.Context, cfg RedisConfig, log *slog.Logger) (*RedisCache, error) {
	if cfg.OpTimeout == 0 {
		cfg.OpTimeout = DefaultRedisConfig().OpTimeout
	}
	if log == nil {
		log = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.OpTimeout,
		WriteTimeout: cfg.OpTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	return &RedisCache{
		client: client,
		cfg:    cfg,
		log:    log.With("component", "cache.redis"),
	}, nil
}

// Get retrieves a value by key. Backend failures degrade to a miss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	data, err := c.client.Get(opCtx, c.prefixKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			atomic.AddInt64(&c.stats.Misses, 1)
			return nil, ErrNotFound
		}
		atomic.AddInt64(&c.stats.Errors, 1)
		atomic.AddInt64(&c.stats.Misses, 1)
		c.log.Warn("redis get degraded to miss", "key", key, "error", err)
		return nil, ErrNotFound
	}

	atomic.AddInt64(&c.stats.Hits, 1)
	return data, nil
}

// Set stores a value with a native Redis TTL. Failures are no-ops.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	if err := c.client.Set(opCtx, c.prefixKey(key), value, c.getTTL(ttl)).Err(); err != nil {
		atomic.AddInt64(&c.stats.Errors, 1)
		c.log.Warn("redis set dropped", "key", key, "error", err)
		return nil
	}

	atomic.AddInt64(&c.stats.Sets, 1)
	return nil
}

// Delete removes a key. An absent key returns ErrNotFound, and so does
// a backend failure: a dropped delete removed nothing and must not
// read as one.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	n, err := c.client.Del(opCtx, c.prefixKey(key)).Result()
	if err != nil {
		atomic.AddInt64(&c.stats.Errors, 1)
		c.log.Warn("redis delete dropped", "key", key, "error", err)
		return ErrNotFound
	}
	if n == 0 {
		return ErrNotFound
	}

	atomic.AddInt64(&c.stats.Deletes, 1)
	return nil
}

// Has checks if a key exists.
func (c *RedisCache) Has(ctx context.Context, key string) bool {
	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	n, err := c.client.Exists(opCtx, c.prefixKey(key)).Result()
	if err != nil {
		atomic.AddInt64(&c.stats.Errors, 1)
		return false
	}
	return n > 0
}

// Clear removes keys matching the glob pattern under the configured
// prefix using SCAN, batching deletes to keep each round trip bounded.
func (c *RedisCache) Clear(ctx context.Context, pattern string) error {
	if pattern == "" {
		pattern = "*"
	}
	match := c.prefixKey(pattern)

	var cursor uint64
	for {
		opCtx, cancel := c.opContext(ctx)
		keys, next, err := c.client.Scan(opCtx, cursor, match, 200).Result()
		cancel()
		if err != nil {
			atomic.AddInt64(&c.stats.Errors, 1)
			c.log.Warn("redis clear aborted", "pattern", pattern, "error", err)
			return nil
		}

		if len(keys) > 0 {
			delCtx, cancel := c.opContext(ctx)
			if err := c.client.Del(delCtx, keys...).Err(); err != nil {
				atomic.AddInt64(&c.stats.Errors, 1)
				c.log.Warn("redis clear delete failed", "error", err)
			}
			cancel()
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Keys is not enumerable cheaply on the remote tier; the L1 store is
// authoritative for key listings.
func (c *RedisCache) Keys() []string {
	return nil
}

// Stats returns client-side counters for the remote tier.
func (c *RedisCache) Stats() Stats {
	return Stats{
		Hits:         atomic.LoadInt64(&c.stats.Hits),
		Misses:       atomic.LoadInt64(&c.stats.Misses),
		Sets:         atomic.LoadInt64(&c.stats.Sets),
		Deletes:      atomic.LoadInt64(&c.stats.Deletes),
		Errors:       atomic.LoadInt64(&c.stats.Errors),
		DecodeErrors: atomic.LoadInt64(&c.stats.DecodeErrors),
	}
}

// RecordDecodeError counts a payload that failed to decode. Called by
// the manager, which treats such payloads as misses.
func (c *RedisCache) RecordDecodeError() {
	atomic.AddInt64(&c.stats.DecodeErrors, 1)
}

// Close releases the Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// opContext bounds a single backend call.
func (c *RedisCache) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.OpTimeout)
}

// prefixKey adds the configured prefix to a key.
func (c *RedisCache) prefixKey(key string) string {
	return c.cfg.KeyPrefix + key
}

// getTTL returns the TTL to use, falling back to default.
func (c *RedisCache) getTTL(ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return c.cfg.DefaultTTL
}
