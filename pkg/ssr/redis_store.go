package ssr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shashiranjanraj/cachebay/pkg/cache"
)

// RedisStore persists a dehydrated Snapshot across process restarts using
// the teacher's Redis wrapper (pkg/cache.Store) as the transport for the
// snapshot bytes. It is not a new persistence format — the value stored
// under key is the exact same {records: [...]} JSON contract Dehydrate
// produces and Decode consumes.
type RedisStore struct {
	store *cache.Store
}

// NewRedisStore wraps an already-connected cache.Store.
func NewRedisStore(store *cache.Store) *RedisStore {
	return &RedisStore{store: store}
}

// Save serializes snap and stores it under key with the given TTL (0 means
// no expiry).
func (s *RedisStore) Save(ctx context.Context, key string, snap Snapshot, ttl time.Duration) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("ssr: redis store is not configured")
	}
	return s.store.Set(ctx, key, snap, ttl)
}

// Load fetches the snapshot previously saved under key. The second return
// value reports whether a snapshot was found.
func (s *RedisStore) Load(ctx context.Context, key string) (Snapshot, bool) {
	if s == nil || s.store == nil {
		return Snapshot{}, false
	}

	var raw json.RawMessage
	if !s.store.Get(ctx, key, &raw) {
		return Snapshot{}, false
	}

	snap, err := Decode(bytes.NewReader(raw))
	if err != nil {
		return Snapshot{}, false
	}
	return snap, true
}

// Forget removes a previously saved snapshot.
func (s *RedisStore) Forget(ctx context.Context, key string) error {
	if s == nil || s.store == nil {
		return nil
	}
	return s.store.Forget(ctx, key)
}
