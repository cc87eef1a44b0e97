// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the ingest HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN used by the worker, migrations, and the read API.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr is the Redis host:port backing the rate limiter. Empty selects the
	// in-memory limiter (single-node deployments and tests).
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPassword is the Redis AUTH password, if any.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	// RedisDB is the Redis database index.
	RedisDB int `mapstructure:"REDIS_DB"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// KafkaTopic is the topic that carries accepted telemetry events.
	KafkaTopic string `mapstructure:"KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the persistence worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// RateLimitMax is the number of submissions admitted per device per window.
	RateLimitMax int `mapstructure:"RATE_LIMIT_MAX"`
	// RateLimitWindow is the fixed-window duration (e.g. "60s").
	RateLimitWindow string `mapstructure:"RATE_LIMIT_WINDOW"`
	// RateLimitFailOpen admits submissions when the limiter backend is unreachable.
	// Default false: fail closed so a limiter outage cannot translate into unbounded load.
	RateLimitFailOpen bool `mapstructure:"RATE_LIMIT_FAIL_OPEN"`

	// WorkerCount is the number of consumer loops the persistence worker runs.
	WorkerCount int `mapstructure:"WORKER_COUNT"`
	// WorkerMaxAttempts is the commit retry budget per record before dead-lettering.
	WorkerMaxAttempts int `mapstructure:"WORKER_MAX_ATTEMPTS"`
	// WorkerRetryBase is the first retry delay (doubles per attempt, e.g. "100ms").
	WorkerRetryBase string `mapstructure:"WORKER_RETRY_BASE"`
	// WorkerRetryMax caps the backoff delay (e.g. "5s").
	WorkerRetryMax string `mapstructure:"WORKER_RETRY_MAX"`

	// APIKey gates the read and dead-letter admin endpoints when set. Empty disables the check.
	APIKey string `mapstructure:"API_KEY"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "iot_stream_v1")
	v.SetDefault("KAFKA_GROUP_ID", "iot-persistence-worker")
	v.SetDefault("RATE_LIMIT_MAX", 100)
	v.SetDefault("RATE_LIMIT_WINDOW", "60s")
	v.SetDefault("RATE_LIMIT_FAIL_OPEN", false)
	v.SetDefault("WORKER_COUNT", 1)
	v.SetDefault("WORKER_MAX_ATTEMPTS", 5)
	v.SetDefault("WORKER_RETRY_BASE", "100ms")
	v.SetDefault("WORKER_RETRY_MAX", "5s")
	v.SetDefault("API_KEY", "")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.RateLimitMax <= 0 {
		return nil, errors.New("config: RATE_LIMIT_MAX must be positive")
	}
	if _, err := time.ParseDuration(cfg.RateLimitWindow); err != nil {
		return nil, fmt.Errorf("config: RATE_LIMIT_WINDOW: %w", err)
	}
	if cfg.WorkerCount <= 0 {
		return nil, errors.New("config: WORKER_COUNT must be positive")
	}
	if cfg.WorkerMaxAttempts <= 0 {
		return nil, errors.New("config: WORKER_MAX_ATTEMPTS must be positive")
	}

	return &cfg, nil
}

// RateWindow parses RateLimitWindow as a time.Duration. Returns 60s if unset or invalid.
func (c *Config) RateWindow() time.Duration {
	d, err := time.ParseDuration(c.RateLimitWindow)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// RetryBase parses WorkerRetryBase as a time.Duration. Returns 100ms if unset or invalid.
func (c *Config) RetryBase() time.Duration {
	d, err := time.ParseDuration(c.WorkerRetryBase)
	if err != nil || d <= 0 {
		return 100 * time.Millisecond
	}
	return d
}

// RetryMax parses WorkerRetryMax as a time.Duration. Returns 5s if unset or invalid.
func (c *Config) RetryMax() time.Duration {
	d, err := time.ParseDuration(c.WorkerRetryMax)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the event log is configured (non-empty list) and to create the writer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
