package domain

import (
	"context"
	"time"
)

// Cache defines the interface for byte-level caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro),
// and a directory-backed store for offline training runs.
// Keys are scoped by namespace so training runs never collide with serving.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, namespace string, key string) ([]byte, error)

	// Set stores a value in cache with expiration. A zero ttl never expires.
	Set(ctx context.Context, namespace string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, namespace string, key string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory", "redis" or "file"
	Type string `json:"type" koanf:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `json:"localMaxSize" koanf:"local_max_size"`
	LocalTTL     time.Duration `json:"localTtl" koanf:"local_ttl"`

	// Redis settings (Pro tier)
	RedisAddr     string `json:"redisAddr" koanf:"redis_addr"`
	RedisPassword string `json:"redisPassword" koanf:"redis_password"`
	RedisDB       int    `json:"redisDb" koanf:"redis_db"`

	// Two-phase settings
	EnableTwoPhase bool `json:"enableTwoPhase" koanf:"enable_two_phase"` // If true, check local first, then Redis

	// FilePath is the directory of the file cache
	FilePath string `json:"filePath" koanf:"file_path"`

	// EntryTTL is the lifetime of computed entries
	EntryTTL time.Duration `json:"entryTtl" koanf:"entry_ttl"`
}
