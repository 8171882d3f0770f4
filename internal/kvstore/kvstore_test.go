package kvstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/serenity/internal/core"
	"github.com/rzpsarthak13/serenity/internal/registry"
)

func newMemory(t *testing.T, size int) (*MemoryKVStore, *time.Time) {
	t.Helper()
	m, err := NewMemoryKVStore(size)
	require.NoError(t, err)
	now := time.Unix(1700000000, 0)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	m, now := newMemory(t, 8)

	require.NoError(t, m.Set(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), 0))

	v, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	*now = now.Add(time.Second)
	_, err = m.Get(ctx, "a")
	assert.ErrorIs(t, err, core.ErrKeyNotFound)
	ok, err := m.Exists(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, m.Len())
}

func TestMemoryStoreEvictsLeastRecent(t *testing.T) {
	ctx := context.Background()
	m, _ := newMemory(t, 2)

	require.NoError(t, m.BatchSet(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, 0))
	_, err := m.Get(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, m.Set(ctx, "c", []byte("3"), 0))

	_, err = m.Get(ctx, "b")
	assert.ErrorIs(t, err, core.ErrKeyNotFound)
	ok, _ := m.Exists(ctx, "a")
	assert.True(t, ok)

	require.NoError(t, m.Delete(ctx, "a"))
	ok, _ = m.Exists(ctx, "a")
	assert.False(t, ok)
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	m, _ := newMemory(t, 2)
	buf := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", buf, 0))
	buf[0] = 'x'

	v, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(v))
}

func TestMemoryStoreClosed(t *testing.T) {
	m, _ := newMemory(t, 2)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	_, err := m.Get(context.Background(), "k")
	assert.ErrorIs(t, err, errClosed)
}

type countingStore struct {
	core.KVStore
	gets atomic.Int32
	gate chan struct{}
}

func (c *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	c.gets.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	return c.KVStore.Get(ctx, key)
}

func TestSessionCache(t *testing.T) {
	ctx := context.Background()
	m, _ := newMemory(t, 8)
	c := NewSessionCache(m, "s")

	assert.Equal(t, "s:00ff", c.Key([]byte{0x00, 0xff}))

	data, err := c.Get(ctx, []byte("sid"))
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, c.Set(ctx, []byte("sid"), []byte("payload"), time.Minute))
	data, err = c.Get(ctx, []byte("sid"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	raw, err := m.Get(ctx, c.Key([]byte("sid")))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), raw)

	require.NoError(t, c.Set(ctx, []byte("sid"), []byte("x"), 0))
	data, err = c.Get(ctx, []byte("sid"))
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, c.Set(ctx, []byte("sid"), []byte("y"), time.Minute))
	require.NoError(t, c.Delete(ctx, []byte("sid")))
	data, err = c.Get(ctx, []byte("sid"))
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestSessionCacheSharesConcurrentReads(t *testing.T) {
	ctx := context.Background()
	m, _ := newMemory(t, 8)
	store := &countingStore{KVStore: m, gate: make(chan struct{})}
	c := NewSessionCache(store, "s")
	require.NoError(t, m.Set(ctx, c.Key([]byte("k")), []byte("v"), 0))

	var wg sync.WaitGroup
	results := make([][]byte, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.Get(ctx, []byte("k"))
		}(i)
	}
	require.Eventually(t, func() bool { return store.gets.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(store.gate)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, []byte("v"), r)
	}
	assert.LessOrEqual(t, store.gets.Load(), int32(4))
	assert.GreaterOrEqual(t, store.gets.Load(), int32(1))
}

func TestDynamoDBItemExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	item := buildItem("k", []byte("v"), 10*time.Second, now)

	n, ok := item["ttl"].(*types.AttributeValueMemberN)
	require.True(t, ok)
	assert.Equal(t, "1010", n.Value)
	assert.False(t, itemExpired(item, now.Add(10*time.Second)))
	assert.True(t, itemExpired(item, now.Add(11*time.Second)))

	forever := buildItem("k", []byte("v"), 0, now)
	_, ok = forever["ttl"]
	assert.False(t, ok)
	assert.False(t, itemExpired(forever, now.Add(time.Hour)))
}

func TestFactoryCreate(t *testing.T) {
	assert.Equal(t, []string{"dynamodb", "memory", "redis"}, GetRegisteredTypes())
	assert.True(t, IsTypeRegistered("memory"))

	store, err := Create(KVStoreConfig{Type: "memory", Size: 4})
	require.NoError(t, err)
	defer store.Close()
	_, ok := store.(*MemoryKVStore)
	assert.True(t, ok)

	_, err = Create(KVStoreConfig{Type: "memory"})
	assert.ErrorContains(t, err, "memory_size")
	_, err = Create(KVStoreConfig{Type: "etcd"})
	assert.ErrorContains(t, err, "unsupported KV store type")
	_, err = Create(KVStoreConfig{Type: "redis", PoolSize: 1})
	assert.ErrorContains(t, err, "at least one endpoint")
	_, err = Create(KVStoreConfig{Type: "dynamodb", Region: "eu-west-1"})
	assert.ErrorContains(t, err, "table_name")
}

func TestConfigValidators(t *testing.T) {
	cm := registry.NewConfigManager()
	base := "database:\n  host: h\n  database: d\n  username: u\n"

	require.NoError(t, cm.LoadFromYAML([]byte(base+"sessions:\n  type: redis\n")))
	assert.Equal(t, "redis", cm.GetConfig().Sessions.Type)

	err := cm.LoadFromYAML([]byte(base + "sessions:\n  type: redis\n  redis_config:\n    db: 16\n"))
	assert.ErrorContains(t, err, "Redis DB must be between 0 and 15")

	err = cm.LoadFromYAML([]byte(base + "sessions:\n  type: dynamodb\n  dynamodb_config:\n    region: us-east-1\n"))
	assert.ErrorContains(t, err, "table_name is required")

	err = cm.LoadFromYAML([]byte(base + "sessions:\n  type: memory\n  memory_size: 0\n"))
	assert.ErrorContains(t, err, "memory_size")

	cfg := ConfigFromSessions(cm.GetConfig().Sessions)
	assert.Equal(t, "redis", cfg.Type)
	assert.Equal(t, []string{"localhost:6379"}, cfg.Endpoints)
}
