package kvstore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rzpsarthak13/serenity/internal/core"
	"github.com/rzpsarthak13/serenity/internal/registry"
)

// KVStoreFactory is the Strategy interface for creating KV store
// implementations. Each backend registers one from init().
type KVStoreFactory interface {
	Create(config KVStoreConfig) (core.KVStore, error)

	// Type returns the backend identifier, e.g. "redis".
	Type() string

	Validate(config KVStoreConfig) error
}

// KVStoreConfig is the backend-neutral configuration a factory receives.
type KVStoreConfig struct {
	Type         string
	Endpoints    []string
	Password     string
	DB           int
	MaxRetries   int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// memory
	Size int

	// dynamodb
	Region          string
	TableName       string
	Endpoint        string // optional, for LocalStack
	AccessKeyID     string
	SecretAccessKey string
}

// ConfigFromSessions flattens the sessions section of the process config.
func ConfigFromSessions(s registry.InternalSessionsConfig) KVStoreConfig {
	return KVStoreConfig{
		Type:            s.Type,
		Endpoints:       s.RedisConfig.Endpoints,
		Password:        s.RedisConfig.Password,
		DB:              s.RedisConfig.DB,
		MaxRetries:      s.MaxRetries,
		PoolSize:        s.RedisConfig.PoolSize,
		MinIdleConns:    s.RedisConfig.MinIdleConns,
		DialTimeout:     s.DialTimeout,
		ReadTimeout:     s.ReadTimeout,
		WriteTimeout:    s.WriteTimeout,
		Size:            s.MemorySize,
		Region:          s.DynamoDBConfig.Region,
		TableName:       s.DynamoDBConfig.TableName,
		Endpoint:        s.DynamoDBConfig.Endpoint,
		AccessKeyID:     s.DynamoDBConfig.AccessKeyID,
		SecretAccessKey: s.DynamoDBConfig.SecretAccessKey,
	}
}

var (
	factoryRegistry = make(map[string]KVStoreFactory)
	registryMutex   sync.RWMutex
)

// RegisterFactory registers a KV store factory. It panics on a nil
// factory, an empty type, or a duplicate type.
func RegisterFactory(factory KVStoreFactory) {
	if factory == nil {
		panic("factory cannot be nil")
	}
	if factory.Type() == "" {
		panic("factory type cannot be empty")
	}

	registryMutex.Lock()
	defer registryMutex.Unlock()

	if _, exists := factoryRegistry[factory.Type()]; exists {
		panic(fmt.Sprintf("factory for type %q is already registered", factory.Type()))
	}
	factoryRegistry[factory.Type()] = factory
}

// Create validates config and builds the store registered for config.Type.
func Create(config KVStoreConfig) (core.KVStore, error) {
	if config.Type == "" {
		return nil, fmt.Errorf("kvstore type is required")
	}

	registryMutex.RLock()
	factory, exists := factoryRegistry[config.Type]
	registryMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported KV store type: %s", config.Type)
	}
	if err := factory.Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", config.Type, err)
	}
	return factory.Create(config)
}

// GetRegisteredTypes returns the registered KV store types, sorted.
func GetRegisteredTypes() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	types := make([]string, 0, len(factoryRegistry))
	for t := range factoryRegistry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// IsTypeRegistered reports whether storeType has a factory.
func IsTypeRegistered(storeType string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	_, exists := factoryRegistry[storeType]
	return exists
}
