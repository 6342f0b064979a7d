package domain

import (
	"context"
	"time"
)

// Cache is a byte-oriented lookaside cache for read-mostly reference data
// (merchant risk tiers, custom rule configs). Device rows, alert rows, and
// velocity counts deliberately bypass it: those reads carry consistency
// requirements the cache cannot honor.
type Cache interface {
	// Get retrieves a value. Returns nil, nil if the key is not present.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with an expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, key string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// If true, check the local LRU first, then Redis.
	EnableTwoPhase bool
}
