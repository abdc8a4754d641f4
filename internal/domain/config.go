package domain

import (
	"io"
	"log/slog"
	"time"
)

type Config struct {
	DataDir string
	Logger  *slog.Logger
	Engine  EngineConfig
}

type EngineConfig struct {
	// WorkerCount bounds concurrent node dispatch when a workflow enables
	// parallel execution.
	WorkerCount            int
	MaxConcurrentRuns      int
	NodeExecutionTimeout   time.Duration
	DefaultRetryPolicy     RetryPolicy
	CancelGraceTimeout     time.Duration
	SuspensionTimeout      time.Duration
	LoopMaxIterations      int
	LogBufferCapacity      int
	SensitiveParameterKeys []string
}

func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Engine:  DefaultEngineConfig(),
	}
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		WorkerCount:          10,
		MaxConcurrentRuns:    50,
		NodeExecutionTimeout: 5 * time.Minute,
		DefaultRetryPolicy: RetryPolicy{
			MaxRetries: 0,
			RetryDelay: time.Second,
		},
		CancelGraceTimeout: 30 * time.Second,
		SuspensionTimeout:  24 * time.Hour,
		LoopMaxIterations:  1000,
		LogBufferCapacity:  10000,
		SensitiveParameterKeys: []string{
			"credentials", "token", "api_key", "secret", "password", "authorization",
		},
	}
}

func (c *Config) WithLogger(logger *slog.Logger) *Config {
	c.Logger = logger
	return c
}

func (c *Config) WithDataDir(dir string) *Config {
	c.DataDir = dir
	return c
}

func (c *Config) WithWorkerCount(n int) *Config {
	c.Engine.WorkerCount = n
	return c
}

func (c *Config) WithDefaultRetry(maxRetries int, delay time.Duration) *Config {
	c.Engine.DefaultRetryPolicy = RetryPolicy{MaxRetries: maxRetries, RetryDelay: delay}
	return c
}

func (c *Config) WithSensitiveKeys(keys ...string) *Config {
	c.Engine.SensitiveParameterKeys = append(c.Engine.SensitiveParameterKeys, keys...)
	return c
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return NewConfigError("data_dir", ErrInvalidInput)
	}
	if c.Logger == nil {
		return NewConfigError("logger", ErrInvalidInput)
	}
	if c.Engine.WorkerCount <= 0 {
		return NewConfigError("engine.worker_count", ErrInvalidInput)
	}
	if c.Engine.MaxConcurrentRuns <= 0 {
		return NewConfigError("engine.max_concurrent_runs", ErrInvalidInput)
	}
	if c.Engine.LogBufferCapacity <= 0 {
		return NewConfigError("engine.log_buffer_capacity", ErrInvalidInput)
	}
	if c.Engine.LoopMaxIterations <= 0 {
		return NewConfigError("engine.loop_max_iterations", ErrInvalidInput)
	}
	if c.Engine.DefaultRetryPolicy.MaxRetries < 0 {
		return NewConfigError("engine.default_retry_policy.max_retries", ErrInvalidInput)
	}
	return nil
}
