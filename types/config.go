package types

import (
	"context"
)

type ConfigManager interface {
	Load() error
	GetConfig() *ServiceConfig
}

type ServiceConfig struct {
	Name        string             `yaml:"name" json:"name" validate:"required"`
	Version     string             `yaml:"version" json:"version" validate:"required"`
	Logger      *LoggerConfig      `yaml:"logger" json:"logger"`
	Store       *StoreConfig       `yaml:"store" json:"store"`
	RateLimit   *RateLimitConfig   `yaml:"rate_limit" json:"rate_limit"`
	Cache       *CacheConfig       `yaml:"cache" json:"cache"`
	Idempotency *IdempotencyConfig `yaml:"idempotency" json:"idempotency"`
	Metrics     *MetricsConfig     `yaml:"metrics" json:"metrics"`
	Cron        *CronConfig        `yaml:"cron" json:"cron"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level"`
	Config interface{} `yaml:"config" json:"config"`
}

type StoreConfig struct {
	Type string `yaml:"type" json:"type" validate:"required"`
	// OpTimeout bounds every single round trip to the store.
	OpTimeout Duration `yaml:"op_timeout" json:"op_timeout" validate:"min=0"`
	KeyPrefix string        `yaml:"key_prefix" json:"key_prefix"`
	Config    interface{}   `yaml:"config" json:"config"`
}

type RateLimitConfig struct {
	Enabled  bool               `yaml:"enabled" json:"enabled"`
	Profiles []RateLimitProfile `yaml:"profiles" json:"profiles" validate:"dive"`
}

type CacheConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// CompressMin is the serialized-value size in bytes above which values
	// are compressed before storage. Zero disables compression.
	CompressMin int `yaml:"compress_min" json:"compress_min" validate:"min=0"`
	ScanCount   int `yaml:"scan_count" json:"scan_count" validate:"min=0"`
}

type IdempotencyConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Retention is how long a processed event id is remembered.
	Retention Duration `yaml:"retention" json:"retention" validate:"min=0"`
	// ReserveTTL bounds how long an in-progress reservation may block
	// redelivery when the holder crashes without releasing.
	ReserveTTL Duration `yaml:"reserve_ttl" json:"reserve_ttl" validate:"min=0"`
}

type MetricsConfig struct {
	Enabled bool        `yaml:"enabled" json:"enabled"`
	Type    string      `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Prefix  string      `yaml:"prefix" json:"prefix"`
	Config  interface{} `yaml:"config" json:"config"`
}

type CronConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Timezone string `yaml:"timezone" json:"timezone" validate:"required_if=Enabled true"`
}

type CronManager interface {
	LifecycleManager
	AddJob(name, schedule string, handler func(ctx context.Context) error) error
	RemoveJob(name string) error
	Jobs() []string
}
