package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/rzpsarthak13/serenity/internal/core"
	"github.com/rzpsarthak13/serenity/internal/registry"
)

var errClosed = errors.New("KV store is closed")

// RedisKVStore implements core.KVStore on a single Redis node.
type RedisKVStore struct {
	client *redis.Client
	closed atomic.Bool
	log    *logrus.Entry
}

// NewRedisKVStore connects to the first endpoint and pings it.
func NewRedisKVStore(config KVStoreConfig) (*RedisKVStore, error) {
	if len(config.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Endpoints[0],
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisKVStoreFromClient(client), nil
}

// NewRedisKVStoreFromClient wraps an existing client.
func NewRedisKVStoreFromClient(client *redis.Client) *RedisKVStore {
	return &RedisKVStore{
		client: client,
		log:    logrus.WithFields(logrus.Fields{"component": "kvstore", "backend": "redis"}),
	}
}

func (r *RedisKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if r.closed.Load() {
		return nil, errClosed
	}
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrKeyNotFound
	}
	if err != nil {
		r.log.WithError(err).WithField("key", key).Warn("get failed")
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	r.log.WithFields(logrus.Fields{"key": key, "size": len(val)}).Debug("get")
	return val, nil
}

func (r *RedisKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if r.closed.Load() {
		return errClosed
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.log.WithError(err).WithField("key", key).Warn("set failed")
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	r.log.WithFields(logrus.Fields{"key": key, "size": len(value), "ttl": ttl}).Debug("set")
	return nil
}

func (r *RedisKVStore) Delete(ctx context.Context, key string) error {
	if r.closed.Load() {
		return errClosed
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (r *RedisKVStore) Exists(ctx context.Context, key string) (bool, error) {
	if r.closed.Load() {
		return false, errClosed
	}
	count, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check existence of key %s: %w", key, err)
	}
	return count > 0, nil
}

// BatchSet pipelines one SET per item.
func (r *RedisKVStore) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if r.closed.Load() {
		return errClosed
	}
	if ttl < 0 {
		ttl = 0
	}
	pipe := r.client.Pipeline()
	for key, value := range items {
		pipe.Set(ctx, key, value, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to batch set keys: %w", err)
	}
	return nil
}

func (r *RedisKVStore) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	return r.client.Close()
}

// GetClient returns the underlying Redis client.
func (r *RedisKVStore) GetClient() *redis.Client {
	return r.client
}

// ListPush appends value to the list at key (RPUSH).
func (r *RedisKVStore) ListPush(ctx context.Context, key string, value []byte) error {
	if r.closed.Load() {
		return errClosed
	}
	return r.client.RPush(ctx, key, value).Err()
}

// ListPop removes the head of the list at key (LPOP). An empty list
// yields nil, nil.
func (r *RedisKVStore) ListPop(ctx context.Context, key string) ([]byte, error) {
	if r.closed.Load() {
		return nil, errClosed
	}
	val, err := r.client.LPop(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, err
}

// ListLength returns LLEN of key.
func (r *RedisKVStore) ListLength(ctx context.Context, key string) (int64, error) {
	if r.closed.Load() {
		return 0, errClosed
	}
	return r.client.LLen(ctx, key).Result()
}

// RedisKVStoreFactory creates RedisKVStore instances.
type RedisKVStoreFactory struct{}

func (f *RedisKVStoreFactory) Type() string {
	return "redis"
}

func (f *RedisKVStoreFactory) Validate(config KVStoreConfig) error {
	if config.Type != "redis" {
		return fmt.Errorf("invalid type for Redis factory: %s", config.Type)
	}
	return validateRedis(config.Endpoints, config.DB, config.PoolSize, config.MinIdleConns,
		config.DialTimeout, config.ReadTimeout, config.WriteTimeout, config.MaxRetries)
}

func (f *RedisKVStoreFactory) Create(config KVStoreConfig) (core.KVStore, error) {
	store, err := NewRedisKVStore(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis KV store: %w", err)
	}
	return store, nil
}

func validateRedis(endpoints []string, db, poolSize, minIdle int, dial, read, write time.Duration, retries int) error {
	if len(endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required for Redis")
	}
	if db < 0 || db > 15 {
		return fmt.Errorf("Redis DB must be between 0 and 15, got: %d", db)
	}
	if poolSize <= 0 {
		return fmt.Errorf("pool_size must be greater than 0, got: %d", poolSize)
	}
	if minIdle < 0 {
		return fmt.Errorf("min_idle_conns must be non-negative, got: %d", minIdle)
	}
	if dial <= 0 {
		return fmt.Errorf("dial_timeout must be greater than 0, got: %v", dial)
	}
	if read <= 0 {
		return fmt.Errorf("read_timeout must be greater than 0, got: %v", read)
	}
	if write <= 0 {
		return fmt.Errorf("write_timeout must be greater than 0, got: %v", write)
	}
	if retries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got: %d", retries)
	}
	return nil
}

// RedisConfigValidator validates the sessions section when it selects
// redis.
type RedisConfigValidator struct{}

func (v *RedisConfigValidator) Type() string {
	return "redis"
}

func (v *RedisConfigValidator) Validate(config *registry.InternalConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	s := config.Sessions
	if s.Type != "redis" {
		return fmt.Errorf("invalid type for Redis validator: %s", s.Type)
	}
	rc := s.RedisConfig
	return validateRedis(rc.Endpoints, rc.DB, rc.PoolSize, rc.MinIdleConns,
		s.DialTimeout, s.ReadTimeout, s.WriteTimeout, s.MaxRetries)
}

func init() {
	RegisterFactory(&RedisKVStoreFactory{})
	registry.RegisterValidator(&RedisConfigValidator{})
}
