package registry

import (
	"time"
)

// InternalConfig is the configuration of a serenity process. pkg/serenity
// exposes it under the public Config name.
type InternalConfig struct {
	Database  InternalDatabaseConfig  `yaml:"database" json:"database"`
	Sessions  InternalSessionsConfig  `yaml:"sessions" json:"sessions"`
	Broadcast InternalBroadcastConfig `yaml:"broadcast" json:"broadcast"`
	Cleanup   InternalCleanupConfig   `yaml:"cleanup" json:"cleanup"`
	Migration InternalMigrationConfig `yaml:"migration" json:"migration"`
	Auth      InternalAuthConfig      `yaml:"auth" json:"auth"`
}

// InternalDatabaseConfig contains the PostgreSQL pool settings.
type InternalDatabaseConfig struct {
	Host              string        `yaml:"host" json:"host"`
	Port              int           `yaml:"port" json:"port"`
	Database          string        `yaml:"database" json:"database"`
	Username          string        `yaml:"username" json:"username"`
	Password          string        `yaml:"password" json:"password"`
	SSLMode           string        `yaml:"ssl_mode" json:"ssl_mode"`
	MaxOpenConns      int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns      int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime   time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime   time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" json:"connection_timeout"`
}

// InternalSessionsConfig selects the session mirror. Type is one of none,
// memory, redis or dynamodb.
type InternalSessionsConfig struct {
	Type           string                 `yaml:"type" json:"type"`
	Namespace      string                 `yaml:"namespace" json:"namespace"`
	RedisConfig    InternalRedisConfig    `yaml:"redis_config,omitempty" json:"redis_config,omitempty"`
	DynamoDBConfig InternalDynamoDBConfig `yaml:"dynamodb_config,omitempty" json:"dynamodb_config,omitempty"`
	MemorySize     int                    `yaml:"memory_size,omitempty" json:"memory_size,omitempty"`
	MaxRetries     int                    `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	DialTimeout    time.Duration          `yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty"`
	ReadTimeout    time.Duration          `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`
	WriteTimeout   time.Duration          `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`
}

// InternalRedisConfig contains Redis connection settings, shared by the
// session mirror and the redis broadcast queue.
type InternalRedisConfig struct {
	Endpoints    []string `yaml:"endpoints" json:"endpoints"`
	Password     string   `yaml:"password,omitempty" json:"password,omitempty"`
	DB           int      `yaml:"db" json:"db"`
	PoolSize     int      `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int      `yaml:"min_idle_conns" json:"min_idle_conns"`
}

// InternalDynamoDBConfig contains DynamoDB-specific configuration.
type InternalDynamoDBConfig struct {
	Region          string `yaml:"region" json:"region"`
	TableName       string `yaml:"table_name" json:"table_name"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
}

// InternalBroadcastConfig configures the broadcast poller and the queue it
// fans messages out to.
type InternalBroadcastConfig struct {
	QueueType       string              `yaml:"queue_type" json:"queue_type"`
	QueueBufferSize int                 `yaml:"queue_buffer_size" json:"queue_buffer_size"`
	PollInterval    time.Duration       `yaml:"poll_interval" json:"poll_interval"`
	Rate            int                 `yaml:"rate" json:"rate"` // messages per second into the queue
	BatchSize       int                 `yaml:"batch_size" json:"batch_size"`
	RetryBackoffMax time.Duration       `yaml:"retry_backoff_max" json:"retry_backoff_max"`
	RedisKey        string              `yaml:"redis_key" json:"redis_key"`
	RedisConfig     InternalRedisConfig `yaml:"redis_config,omitempty" json:"redis_config,omitempty"`
	KafkaConfig     InternalKafkaConfig `yaml:"kafka_config" json:"kafka_config"`
}

// InternalKafkaConfig contains Kafka-specific configuration.
type InternalKafkaConfig struct {
	Brokers         []string      `yaml:"brokers" json:"brokers"`
	Topic           string        `yaml:"topic" json:"topic"`
	GroupID         string        `yaml:"group_id" json:"group_id"`
	BatchSize       int           `yaml:"batch_size" json:"batch_size"`
	BatchTimeout    time.Duration `yaml:"batch_timeout" json:"batch_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	RequiredAcks    int           `yaml:"required_acks" json:"required_acks"`
	MaxMessageBytes int           `yaml:"max_message_bytes" json:"max_message_bytes"`
	MinBytes        int           `yaml:"min_bytes" json:"min_bytes"`
	MaxBytes        int           `yaml:"max_bytes" json:"max_bytes"`
	MaxWait         time.Duration `yaml:"max_wait" json:"max_wait"`
}

// InternalCleanupConfig configures the session cleaner.
type InternalCleanupConfig struct {
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// InternalMigrationConfig configures the migration log.
type InternalMigrationConfig struct {
	LogDir string `yaml:"log_dir" json:"log_dir"`
	Server string `yaml:"server" json:"server"`
}

// InternalAuthConfig bounds failed login attempts. Secret is mixed into
// every stored password digest.
type InternalAuthConfig struct {
	MaxFailures int64         `yaml:"max_failures" json:"max_failures"`
	MaxAuthTime time.Duration `yaml:"max_auth_time" json:"max_auth_time"`
	Secret      string        `yaml:"secret" json:"secret"`
}
