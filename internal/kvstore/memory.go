package kvstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rzpsarthak13/serenity/internal/core"
	"github.com/rzpsarthak13/serenity/internal/registry"
)

type memoryEntry struct {
	value   []byte
	expires time.Time // zero means never
}

// MemoryKVStore is a process-local LRU store. Entries past their expiry
// are dropped when read.
type MemoryKVStore struct {
	mu     sync.Mutex
	cache  *lru.Cache[string, memoryEntry]
	now    func() time.Time
	closed atomic.Bool
}

// NewMemoryKVStore creates a store holding at most size entries.
func NewMemoryKVStore(size int) (*MemoryKVStore, error) {
	cache, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory store: %w", err)
	}
	return &MemoryKVStore{cache: cache, now: time.Now}, nil
}

func (m *MemoryKVStore) lookup(key string) (memoryEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.cache.Get(key)
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		m.cache.Remove(key)
		return memoryEntry{}, false
	}
	return e, true
}

func (m *MemoryKVStore) entry(value []byte, ttl time.Duration) memoryEntry {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	return e
}

func (m *MemoryKVStore) Get(_ context.Context, key string) ([]byte, error) {
	if m.closed.Load() {
		return nil, errClosed
	}
	e, ok := m.lookup(key)
	if !ok {
		return nil, core.ErrKeyNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (m *MemoryKVStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if m.closed.Load() {
		return errClosed
	}
	m.mu.Lock()
	m.cache.Add(key, m.entry(value, ttl))
	m.mu.Unlock()
	return nil
}

func (m *MemoryKVStore) Delete(_ context.Context, key string) error {
	if m.closed.Load() {
		return errClosed
	}
	m.mu.Lock()
	m.cache.Remove(key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryKVStore) Exists(_ context.Context, key string) (bool, error) {
	if m.closed.Load() {
		return false, errClosed
	}
	_, ok := m.lookup(key)
	return ok, nil
}

func (m *MemoryKVStore) BatchSet(_ context.Context, items map[string][]byte, ttl time.Duration) error {
	if m.closed.Load() {
		return errClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range items {
		m.cache.Add(key, m.entry(value, ttl))
	}
	return nil
}

// Len returns the number of entries, expired ones included.
func (m *MemoryKVStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Len()
}

func (m *MemoryKVStore) Close() error {
	if m.closed.CompareAndSwap(false, true) {
		m.mu.Lock()
		m.cache.Purge()
		m.mu.Unlock()
	}
	return nil
}

// MemoryKVStoreFactory creates MemoryKVStore instances.
type MemoryKVStoreFactory struct{}

func (f *MemoryKVStoreFactory) Type() string {
	return "memory"
}

func (f *MemoryKVStoreFactory) Validate(config KVStoreConfig) error {
	if config.Type != "memory" {
		return fmt.Errorf("invalid type for memory factory: %s", config.Type)
	}
	if config.Size <= 0 {
		return fmt.Errorf("memory_size must be greater than 0, got: %d", config.Size)
	}
	return nil
}

func (f *MemoryKVStoreFactory) Create(config KVStoreConfig) (core.KVStore, error) {
	return NewMemoryKVStore(config.Size)
}

// MemoryConfigValidator validates the sessions section when it selects
// memory.
type MemoryConfigValidator struct{}

func (v *MemoryConfigValidator) Type() string {
	return "memory"
}

func (v *MemoryConfigValidator) Validate(config *registry.InternalConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if config.Sessions.MemorySize <= 0 {
		return fmt.Errorf("memory_size must be greater than 0, got: %d", config.Sessions.MemorySize)
	}
	return nil
}

func init() {
	RegisterFactory(&MemoryKVStoreFactory{})
	registry.RegisterValidator(&MemoryConfigValidator{})
}
