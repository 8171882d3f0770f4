package core

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by KVStore.Get for a missing or expired key.
var ErrKeyNotFound = errors.New("key not found")

// KVStore is the key-value store behind the session mirror.
type KVStore interface {
	// Get returns ErrKeyNotFound when the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	Exists(ctx context.Context, key string) (bool, error)

	// BatchSet stores several pairs with a shared ttl.
	BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error

	Close() error
}
