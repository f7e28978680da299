package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemanthmantri/conduit/internal/config"
)

// TestDefaultConfigValid tests that the default configuration passes
// validation as-is
func TestDefaultConfigValid(t *testing.T) {
	cfg := config.NewDefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, config.DefaultRedisEndpoint, cfg.ExecutionStore.Addr)
	assert.Equal(t, config.DefaultConsumerGroup, cfg.ConsumerGroup)
}

// TestLoadFromEnv tests that environment overrides are applied and parsed
func TestLoadFromEnv(t *testing.T) {
	t.Setenv("EXECUTION_REDIS_ADDR", "redis:6380")
	t.Setenv("CONSUMER_GROUP", "workers")
	t.Setenv("STEP_TIMEOUT", "60000")
	t.Setenv("SWEEP_INTERVAL", "250")

	cfg := config.NewDefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "redis:6380", cfg.ExecutionStore.Addr)
	assert.Equal(t, "workers", cfg.ConsumerGroup)
	assert.Equal(t, int64(60000), cfg.DefaultStepTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.SweepInterval)
}

// TestLoadFromEnvRejectsBadValues tests that unparseable or out-of-range
// values are reported instead of silently ignored
func TestLoadFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("STEP_TIMEOUT", "not-a-number")
	cfg := config.NewDefaultConfig()
	assert.Error(t, cfg.LoadFromEnv())

	t.Setenv("STEP_TIMEOUT", "-5")
	cfg = config.NewDefaultConfig()
	assert.Error(t, cfg.LoadFromEnv())
}

// TestValidateRejectsBadConfig tests each validation failure
func TestValidateRejectsBadConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.DefaultStepTimeout = -1
	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidStepTimeout)

	cfg = config.NewDefaultConfig()
	cfg.SweepInterval = 0
	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidSweepInterval)

	cfg = config.NewDefaultConfig()
	cfg.ConsumerGroup = ""
	assert.ErrorIs(t, cfg.Validate(), config.ErrConsumerGroupEmpty)
}
