package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned when a key is absent from the cache
var ErrCacheMiss = errors.New("cache miss")

// KVCache defines the interface for the block timestamp cache. Values are
// write-once: callers never overwrite an existing key with different content.
//
//go:generate mockgen -source=redis.go -destination=../mocks/redis.go -package=mocks -mock_names=KVCache=MockKVCache
type KVCache interface {
	// Get returns the value for key, or ErrCacheMiss if absent
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value; ttl of 0 means no expiration
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Ping checks if the cache is reachable
	Ping(ctx context.Context) error

	// Close closes the connection
	Close() error
}

// RealRedisCache implements KVCache backed by a Redis client
type RealRedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis-backed cache
func NewRedisCache(addr, password string, db int) KVCache {
	return &RealRedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// Get returns the value for key, or ErrCacheMiss if absent
func (r *RealRedisCache) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return value, err
}

// Set stores a value; ttl of 0 means no expiration
func (r *RealRedisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Ping checks if the cache is reachable
func (r *RealRedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RealRedisCache) Close() error {
	return r.client.Close()
}
