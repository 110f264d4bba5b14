// Package cache wraps go-redis into a small, instance-scoped key/value
// store. It backs the optional Redis persistence layer for dehydrated
// cache snapshots (see pkg/ssr); nothing in the engine's core path depends
// on it.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shashiranjanraj/cachebay/config"
)

// Store is a thin, reusable wrapper around a *redis.Client. Unlike the
// teacher's package-level RDB, a Store is constructed per cache instance so
// two independent engines never share a connection or a Ping failure.
type Store struct {
	rdb *redis.Client
}

// Connect dials Redis using the ambient config (REDIS_ADDR/REDIS_PASSWORD)
// and verifies the connection with a ping. Returns an error so the caller
// can fall back to an in-memory-only SSR store instead of aborting.
func Connect(ctx context.Context) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr(),
		Password: config.RedisPassword(),
		DB:       0,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}

	return &Store{rdb: rdb}, nil
}

// Get retrieves a cached value by key and unmarshals into dest. Returns
// true on a cache hit, false on miss, error, or a nil Store.
func (s *Store) Get(ctx context.Context, key string, dest interface{}) bool {
	if s == nil || s.rdb == nil {
		return false
	}

	val, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		return false
	}

	return json.Unmarshal([]byte(val), dest) == nil
}

// Set stores value in Redis under key for the given TTL. A zero TTL means
// no expiry.
func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return s.rdb.Set(ctx, key, data, ttl).Err()
}

// Del removes one or more keys from Redis.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

// Forget is an alias for Del (one key).
func (s *Store) Forget(ctx context.Context, key string) error {
	return s.Del(ctx, key)
}

// Close releases the underlying Redis connection.
func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}
