// Package config holds runtime settings for the engine and its stores,
// loaded from the environment with validated defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hemanthmantri/conduit/internal/store"
)

type (
	// Config holds configuration settings for the execution engine
	Config struct {
		// Logging
		LogLevel string

		// Stores
		ExecutionStore store.RedisConfig
		PostgresDSN    string

		// Event log
		ConsumerGroup  string
		ConsumerName   string
		LeaderLeaseTTL time.Duration

		// Archiving
		ArchiveBucketURL string

		// Engine
		DefaultStepTimeout int64
		SweepInterval      time.Duration
		ShutdownTimeout    time.Duration
	}
)

const (
	DefaultStepTimeout     = int64(30_000)
	DefaultSweepInterval   = 5 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultLeaderLeaseTTL  = 15 * time.Second

	DefaultRedisDB = 0

	DefaultRedisEndpoint = "localhost:6379"
	DefaultRedisPrefix   = "conduit"
	DefaultConsumerGroup = "conduit-engine"

	MaxStepTimeout   = int64(365 * 24 * 60 * 60_000) // 1 year in ms
	MaxSweepInterval = int64(time.Hour / time.Millisecond)
)

var (
	ErrInvalidStepTimeout   = errors.New("step timeout must be positive")
	ErrInvalidSweepInterval = errors.New("sweep interval must be positive")
	ErrConsumerGroupEmpty   = errors.New("consumer group empty")
)

// NewDefaultConfig creates a configuration with sensible defaults for all
// engine settings and stores
func NewDefaultConfig() *Config {
	host, _ := os.Hostname()
	if host == "" {
		host = "conduit-1"
	}
	return &Config{
		ExecutionStore: store.RedisConfig{
			Addr:   DefaultRedisEndpoint,
			Prefix: DefaultRedisPrefix,
			DB:     DefaultRedisDB,
		},
		ConsumerGroup:      DefaultConsumerGroup,
		ConsumerName:       host,
		LeaderLeaseTTL:     DefaultLeaderLeaseTTL,
		DefaultStepTimeout: DefaultStepTimeout,
		SweepInterval:      DefaultSweepInterval,
		ShutdownTimeout:    DefaultShutdownTimeout,
		LogLevel:           "info",
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed.
func (c *Config) LoadFromEnv() error {
	LoadStoreConfigFromEnv(&c.ExecutionStore, "EXECUTION")

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		c.PostgresDSN = dsn
	}
	if group := os.Getenv("CONSUMER_GROUP"); group != "" {
		c.ConsumerGroup = group
	}
	if name := os.Getenv("CONSUMER_NAME"); name != "" {
		c.ConsumerName = name
	}
	if bucket := os.Getenv("ARCHIVE_BUCKET_URL"); bucket != "" {
		c.ArchiveBucketURL = bucket
	}

	if err := loadEnvInt(
		"STEP_TIMEOUT", &c.DefaultStepTimeout, 0, MaxStepTimeout,
	); err != nil {
		return err
	}

	var sweepMillis int64
	if err := loadEnvInt(
		"SWEEP_INTERVAL", &sweepMillis, 0, MaxSweepInterval,
	); err != nil {
		return err
	}
	if sweepMillis > 0 {
		c.SweepInterval = time.Duration(sweepMillis) * time.Millisecond
	}

	var leaseMillis int64
	if err := loadEnvInt(
		"LEADER_LEASE_TTL", &leaseMillis, 0, MaxSweepInterval,
	); err != nil {
		return err
	}
	if leaseMillis > 0 {
		c.LeaderLeaseTTL = time.Duration(leaseMillis) * time.Millisecond
	}

	return nil
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.DefaultStepTimeout <= 0 {
		return ErrInvalidStepTimeout
	}
	if c.SweepInterval <= 0 {
		return ErrInvalidSweepInterval
	}
	if c.ConsumerGroup == "" {
		return ErrConsumerGroupEmpty
	}
	return nil
}

// LoadStoreConfigFromEnv loads Redis store configuration from environment
// variables with the given prefix (e.g., "EXECUTION")
func LoadStoreConfigFromEnv(s *store.RedisConfig, prefix string) {
	if addr := os.Getenv(prefix + "_REDIS_ADDR"); addr != "" {
		s.Addr = addr
	}
	if password := os.Getenv(prefix + "_REDIS_PASSWORD"); password != "" {
		s.Password = password
	}
	if dbStr := os.Getenv(prefix + "_REDIS_DB"); dbStr != "" {
		db, err := strconv.Atoi(dbStr)
		if err == nil {
			s.DB = db
		}
	}
	if envPrefix := os.Getenv(prefix + "_REDIS_PREFIX"); envPrefix != "" {
		s.Prefix = envPrefix
	}
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max). Returns an error if
// the value cannot be parsed or falls outside the valid range.
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, tv, min+1, max)
	}
	*dst = tv
	return nil
}
