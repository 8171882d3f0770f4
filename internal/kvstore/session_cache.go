package kvstore

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rzpsarthak13/serenity/internal/core"
)

// SessionCache mirrors session rows into a KVStore. Concurrent reads of
// the same session share one store round trip.
type SessionCache struct {
	store     core.KVStore
	namespace string
	group     singleflight.Group
}

// NewSessionCache keys every session under namespace.
func NewSessionCache(store core.KVStore, namespace string) *SessionCache {
	return &SessionCache{store: store, namespace: namespace}
}

// Key returns the store key of a session name.
func (c *SessionCache) Key(name []byte) string {
	return c.namespace + ":" + hex.EncodeToString(name)
}

// Get returns nil, nil when the session is not cached.
func (c *SessionCache) Get(ctx context.Context, name []byte) ([]byte, error) {
	key := c.Key(name)
	v, err, _ := c.group.Do(key, func() (any, error) {
		data, err := c.store.Get(ctx, key)
		if errors.Is(err, core.ErrKeyNotFound) {
			return []byte(nil), nil
		}
		return data, err
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Set caches data for ttl. A non-positive ttl removes the entry.
func (c *SessionCache) Set(ctx context.Context, name, data []byte, ttl time.Duration) error {
	key := c.Key(name)
	c.group.Forget(key)
	if ttl <= 0 {
		return c.store.Delete(ctx, key)
	}
	return c.store.Set(ctx, key, data, ttl)
}

func (c *SessionCache) Delete(ctx context.Context, name []byte) error {
	key := c.Key(name)
	c.group.Forget(key)
	return c.store.Delete(ctx, key)
}

// Close closes the underlying store.
func (c *SessionCache) Close() error {
	return c.store.Close()
}
