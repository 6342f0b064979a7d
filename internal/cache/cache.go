package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/harrierhq/harrier/internal/domain"
)

// New creates a new cache based on configuration.
// "memory" returns the LRU cache; "redis" returns either the Redis cache or,
// with two-phase enabled, the TwoPhaseCache wrapping LRU + Redis.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache implements the two-phase caching strategy.
// L1: local LRU for fast reads.
// L2: Redis for sharing across nodes.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	local := NewLRUCache(cfg.LocalMaxSize)

	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	l1TTL := cfg.LocalTTL
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}

	return &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}, nil
}

// Get checks L1 first, falling back to L2 and refilling L1 on a hit.
func (c *TwoPhaseCache) Get(ctx context.Context, key string) ([]byte, error) {
	if val, err := c.local.Get(ctx, key); err == nil && val != nil {
		return val, nil
	}

	val, err := c.remote.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		c.local.Set(ctx, key, val, c.l1TTL)
	}
	return val, nil
}

// Set writes through to both levels.
func (c *TwoPhaseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	l1TTL := ttl
	if l1TTL > c.l1TTL {
		l1TTL = c.l1TTL
	}
	c.local.Set(ctx, key, value, l1TTL)
	return c.remote.Set(ctx, key, value, ttl)
}

// Delete removes the key from both levels.
func (c *TwoPhaseCache) Delete(ctx context.Context, key string) error {
	c.local.Delete(ctx, key)
	return c.remote.Delete(ctx, key)
}

// Ping checks the remote level; the local level cannot fail.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	return c.remote.Ping(ctx)
}

// Close closes both levels.
func (c *TwoPhaseCache) Close() error {
	c.local.Close()
	return c.remote.Close()
}
