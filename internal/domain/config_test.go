package domain

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return DefaultConfig().WithDataDir("/tmp/loom-test")
}

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*Config)
		field string
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }, "data_dir"},
		{"nil logger", func(c *Config) { c.Logger = nil }, "logger"},
		{"zero workers", func(c *Config) { c.Engine.WorkerCount = 0 }, "engine.worker_count"},
		{"negative workers", func(c *Config) { c.Engine.WorkerCount = -3 }, "engine.worker_count"},
		{"zero concurrent runs", func(c *Config) { c.Engine.MaxConcurrentRuns = 0 }, "engine.max_concurrent_runs"},
		{"zero log capacity", func(c *Config) { c.Engine.LogBufferCapacity = 0 }, "engine.log_buffer_capacity"},
		{"zero loop bound", func(c *Config) { c.Engine.LoopMaxIterations = 0 }, "engine.loop_max_iterations"},
		{"negative retries", func(c *Config) { c.Engine.DefaultRetryPolicy.MaxRetries = -1 }, "engine.default_retry_policy.max_retries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.setup(config)

			err := config.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidInput)

			var configErr *ConfigError
			require.ErrorAs(t, err, &configErr)
			assert.Equal(t, tt.field, configErr.Field)
		})
	}
}

func TestConfigBuilders(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	config := DefaultConfig().
		WithDataDir("/var/lib/loom").
		WithLogger(logger).
		WithWorkerCount(4).
		WithDefaultRetry(2, 250*time.Millisecond).
		WithSensitiveKeys("session_token")

	assert.Equal(t, "/var/lib/loom", config.DataDir)
	assert.Same(t, logger, config.Logger)
	assert.Equal(t, 4, config.Engine.WorkerCount)
	assert.Equal(t, RetryPolicy{MaxRetries: 2, RetryDelay: 250 * time.Millisecond}, config.Engine.DefaultRetryPolicy)
	assert.Contains(t, config.Engine.SensitiveParameterKeys, "session_token")
	assert.Contains(t, config.Engine.SensitiveParameterKeys, "api_key")
	require.NoError(t, config.Validate())
}
