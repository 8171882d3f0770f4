package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// ConfigValidator is the Strategy interface for validating configuration.
// Each session backend (redis, dynamodb, memory) provides its own validator
// for its section of the configuration.
type ConfigValidator interface {
	// Validate checks only the backend-specific part of config.
	Validate(config *InternalConfig) error

	// Type returns the backend identifier, e.g. "redis".
	Type() string
}

var (
	validatorRegistry      = make(map[string]ConfigValidator)
	validatorRegistryMutex sync.RWMutex
)

// ValidationStrategyRegistry registers and looks up config validators.
type ValidationStrategyRegistry struct{}

// Register adds a validator. It panics if validator is nil, its type is
// empty, or the type is already registered.
func (r *ValidationStrategyRegistry) Register(validator ConfigValidator) {
	if validator == nil {
		panic("validator cannot be nil")
	}
	if validator.Type() == "" {
		panic("validator type cannot be empty")
	}

	validatorRegistryMutex.Lock()
	defer validatorRegistryMutex.Unlock()

	if _, exists := validatorRegistry[validator.Type()]; exists {
		panic(fmt.Sprintf("validator for type %q is already registered", validator.Type()))
	}
	validatorRegistry[validator.Type()] = validator
}

// Get retrieves a validator by type.
func (r *ValidationStrategyRegistry) Get(validatorType string) (ConfigValidator, bool) {
	validatorRegistryMutex.RLock()
	defer validatorRegistryMutex.RUnlock()

	validator, exists := validatorRegistry[validatorType]
	return validator, exists
}

// RegisterValidator registers a validator in the default registry. Backends
// call it from init().
func RegisterValidator(validator ConfigValidator) {
	defaultValidationRegistry.Register(validator)
}

// GetValidator retrieves a validator from the default registry.
func GetValidator(validatorType string) (ConfigValidator, bool) {
	return defaultValidationRegistry.Get(validatorType)
}

var defaultValidationRegistry = &ValidationStrategyRegistry{}

// SessionsNone disables the session mirror.
const SessionsNone = "none"

// ConfigManager handles loading and managing configuration from various sources.
type ConfigManager struct {
	config *InternalConfig
}

// NewConfigManager creates a configuration manager holding the defaults.
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		config: DefaultInternalConfig(),
	}
}

// DefaultInternalConfig returns a configuration with sensible defaults.
func DefaultInternalConfig() *InternalConfig {
	redis := InternalRedisConfig{
		Endpoints:    []string{"localhost:6379"},
		PoolSize:     10,
		MinIdleConns: 5,
	}
	return &InternalConfig{
		Database: InternalDatabaseConfig{
			Host:              "localhost",
			Port:              5432,
			SSLMode:           "disable",
			MaxOpenConns:      25,
			MaxIdleConns:      5,
			ConnMaxLifetime:   5 * time.Minute,
			ConnMaxIdleTime:   10 * time.Minute,
			ConnectionTimeout: 10 * time.Second,
		},
		Sessions: InternalSessionsConfig{
			Type:         SessionsNone,
			Namespace:    "serenity:session",
			RedisConfig:  redis,
			MemorySize:   10000,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Broadcast: InternalBroadcastConfig{
			QueueType:       "memory",
			QueueBufferSize: 10000,
			PollInterval:    time.Second,
			Rate:            500,
			BatchSize:       100,
			RetryBackoffMax: 30 * time.Second,
			RedisKey:        "serenity:broadcasts",
			RedisConfig:     redis,
			KafkaConfig: InternalKafkaConfig{
				Brokers:         []string{"localhost:9092"},
				Topic:           "serenity-broadcasts",
				GroupID:         "serenity-broadcasts",
				BatchSize:       100,
				BatchTimeout:    10 * time.Millisecond,
				WriteTimeout:    10 * time.Second,
				ReadTimeout:     10 * time.Second,
				RequiredAcks:    -1,
				MaxMessageBytes: 1000000,
				MinBytes:        1,
				MaxBytes:        10 * 1024 * 1024,
				MaxWait:         100 * time.Millisecond,
			},
		},
		Cleanup: InternalCleanupConfig{
			Interval: time.Minute,
		},
		Migration: InternalMigrationConfig{
			LogDir: ".serenity",
		},
		Auth: InternalAuthConfig{
			MaxFailures: 16,
			MaxAuthTime: 10 * time.Minute,
		},
	}
}

// LoadFromFile loads configuration from a YAML or JSON file, chosen by the
// file extension (.yaml, .yml or .json).
func (cm *ConfigManager) LoadFromFile(filePath string) error {
	config, err := ReadConfigFile(filePath)
	if err != nil {
		return err
	}
	return cm.apply(config)
}

// ReadConfigFile decodes a YAML or JSON file over the defaults without
// validating it.
func ReadConfigFile(filePath string) (*InternalConfig, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".yaml", ".yml":
		return decodeYAML(data)
	case ".json":
		return decodeJSON(data)
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}
}

func decodeYAML(data []byte) (*InternalConfig, error) {
	config := DefaultInternalConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	return config, nil
}

// Durations are nanosecond integers in JSON.
func decodeJSON(data []byte) (*InternalConfig, error) {
	config := DefaultInternalConfig()
	if len(data) > 0 {
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}
	return config, nil
}

// LoadFromYAML loads configuration from YAML data.
func (cm *ConfigManager) LoadFromYAML(data []byte) error {
	config, err := decodeYAML(data)
	if err != nil {
		return err
	}
	return cm.apply(config)
}

// LoadFromJSON loads configuration from JSON data.
func (cm *ConfigManager) LoadFromJSON(data []byte) error {
	config, err := decodeJSON(data)
	if err != nil {
		return err
	}
	return cm.apply(config)
}

// LoadFromEnv loads configuration from environment variables of the form
// SERENITY_<SECTION>_<KEY>, for example:
//   - SERENITY_DATABASE_HOST=localhost
//   - SERENITY_SESSIONS_TYPE=redis
//   - SERENITY_SESSIONS_ENDPOINTS=localhost:6379,localhost:6380
//   - SERENITY_BROADCAST_POLL_INTERVAL=500ms
//   - SERENITY_AUTH_MAX_FAILURES=16
func (cm *ConfigManager) LoadFromEnv() error {
	config := DefaultInternalConfig()
	ApplyEnv(config, os.Getenv)
	return cm.apply(config)
}

// ApplyEnv overlays the SERENITY_ variables returned by getenv on config.
// Values that fail to parse are ignored.
func ApplyEnv(config *InternalConfig, getenv func(string) string) {
	str := func(key string, dst *string) {
		if val := getenv("SERENITY_" + key); val != "" {
			*dst = val
		}
	}
	list := func(key string, dst *[]string) {
		if val := getenv("SERENITY_" + key); val != "" {
			*dst = strings.Split(val, ",")
		}
	}
	num := func(key string, dst *int) {
		if val := getenv("SERENITY_" + key); val != "" {
			if n, err := cast.ToIntE(val); err == nil {
				*dst = n
			}
		}
	}
	dur := func(key string, dst *time.Duration) {
		if val := getenv("SERENITY_" + key); val != "" {
			if d, err := cast.ToDurationE(val); err == nil {
				*dst = d
			}
		}
	}

	db := &config.Database
	str("DATABASE_HOST", &db.Host)
	num("DATABASE_PORT", &db.Port)
	str("DATABASE_DATABASE", &db.Database)
	str("DATABASE_USERNAME", &db.Username)
	str("DATABASE_PASSWORD", &db.Password)
	str("DATABASE_SSL_MODE", &db.SSLMode)
	num("DATABASE_MAX_OPEN_CONNS", &db.MaxOpenConns)
	num("DATABASE_MAX_IDLE_CONNS", &db.MaxIdleConns)

	s := &config.Sessions
	str("SESSIONS_TYPE", &s.Type)
	str("SESSIONS_NAMESPACE", &s.Namespace)
	list("SESSIONS_ENDPOINTS", &s.RedisConfig.Endpoints)
	str("SESSIONS_PASSWORD", &s.RedisConfig.Password)
	num("SESSIONS_DB", &s.RedisConfig.DB)
	num("SESSIONS_POOL_SIZE", &s.RedisConfig.PoolSize)
	num("SESSIONS_MEMORY_SIZE", &s.MemorySize)
	num("SESSIONS_MAX_RETRIES", &s.MaxRetries)
	str("SESSIONS_DYNAMODB_REGION", &s.DynamoDBConfig.Region)
	str("SESSIONS_DYNAMODB_TABLE", &s.DynamoDBConfig.TableName)
	str("SESSIONS_DYNAMODB_ENDPOINT", &s.DynamoDBConfig.Endpoint)

	b := &config.Broadcast
	str("BROADCAST_QUEUE_TYPE", &b.QueueType)
	num("BROADCAST_QUEUE_BUFFER_SIZE", &b.QueueBufferSize)
	dur("BROADCAST_POLL_INTERVAL", &b.PollInterval)
	num("BROADCAST_RATE", &b.Rate)
	num("BROADCAST_BATCH_SIZE", &b.BatchSize)
	str("BROADCAST_REDIS_KEY", &b.RedisKey)
	list("BROADCAST_REDIS_ENDPOINTS", &b.RedisConfig.Endpoints)
	list("BROADCAST_KAFKA_BROKERS", &b.KafkaConfig.Brokers)
	str("BROADCAST_KAFKA_TOPIC", &b.KafkaConfig.Topic)
	str("BROADCAST_KAFKA_GROUP_ID", &b.KafkaConfig.GroupID)

	dur("CLEANUP_INTERVAL", &config.Cleanup.Interval)
	str("MIGRATION_LOG_DIR", &config.Migration.LogDir)
	str("MIGRATION_SERVER", &config.Migration.Server)

	if val := getenv("SERENITY_AUTH_MAX_FAILURES"); val != "" {
		if n, err := cast.ToInt64E(val); err == nil {
			config.Auth.MaxFailures = n
		}
	}
	dur("AUTH_MAX_AUTH_TIME", &config.Auth.MaxAuthTime)
	str("AUTH_SECRET", &config.Auth.Secret)
}

// Set validates config and makes it current.
func (cm *ConfigManager) Set(config *InternalConfig) error {
	return cm.apply(config)
}

func (cm *ConfigManager) apply(config *InternalConfig) error {
	if err := cm.validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cm.config = config
	return nil
}

// GetConfig returns the current internal configuration.
func (cm *ConfigManager) GetConfig() *InternalConfig {
	return cm.config
}

// validateConfig checks config. Session backends are validated through
// their registered strategy.
func (cm *ConfigManager) validateConfig(config *InternalConfig) error {
	if config.Sessions.Type == "" {
		return fmt.Errorf("sessions.type is required")
	}
	if config.Sessions.Type != SessionsNone {
		validator, exists := GetValidator(config.Sessions.Type)
		if !exists {
			return fmt.Errorf("unsupported session store type: %s", config.Sessions.Type)
		}
		if err := validator.Validate(config); err != nil {
			return fmt.Errorf("sessions validation failed: %w", err)
		}
	}

	if config.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if config.Database.Port <= 0 || config.Database.Port > 65535 {
		return fmt.Errorf("database.port must be between 1 and 65535")
	}
	if config.Database.Database == "" {
		return fmt.Errorf("database.database is required")
	}
	if config.Database.Username == "" {
		return fmt.Errorf("database.username is required")
	}
	if config.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be greater than 0")
	}

	b := config.Broadcast
	switch b.QueueType {
	case "memory", "redis", "kafka":
	default:
		return fmt.Errorf("broadcast.queue_type must be 'memory', 'redis', or 'kafka'")
	}
	if b.PollInterval <= 0 {
		return fmt.Errorf("broadcast.poll_interval must be greater than 0")
	}
	if b.Rate <= 0 {
		return fmt.Errorf("broadcast.rate must be greater than 0")
	}
	if b.BatchSize <= 0 {
		return fmt.Errorf("broadcast.batch_size must be greater than 0")
	}
	if b.QueueType == "redis" && len(b.RedisConfig.Endpoints) == 0 {
		return fmt.Errorf("broadcast.redis_config.endpoints is required when queue_type is 'redis'")
	}
	if b.QueueType == "kafka" {
		if len(b.KafkaConfig.Brokers) == 0 {
			return fmt.Errorf("kafka_config.brokers is required when queue_type is 'kafka'")
		}
		if b.KafkaConfig.Topic == "" {
			return fmt.Errorf("kafka_config.topic is required when queue_type is 'kafka'")
		}
	}

	if config.Cleanup.Interval <= 0 {
		return fmt.Errorf("cleanup.interval must be greater than 0")
	}
	if config.Auth.MaxFailures <= 0 {
		return fmt.Errorf("auth.max_failures must be greater than 0")
	}
	if config.Auth.MaxAuthTime <= 0 {
		return fmt.Errorf("auth.max_auth_time must be greater than 0")
	}
	return nil
}
