package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the governance layer
type Config struct {
	Logging      LoggingConfig      `json:"logging" mapstructure:"logging"`
	Retry        RetryConfig        `json:"retry" mapstructure:"retry"`
	RateLimit    RateLimitConfig    `json:"rate_limit" mapstructure:"rate_limit"`
	Breaker      BreakerConfig      `json:"breaker" mapstructure:"breaker"`
	Orchestrator OrchestratorConfig `json:"orchestrator" mapstructure:"orchestrator"`
}

// LoggingConfig configures the root logger
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// RetryConfig holds default retry behavior for governed executions
type RetryConfig struct {
	MaxAttempts           int           `json:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay             time.Duration `json:"base_delay" mapstructure:"base_delay"`
	MaxDelay              time.Duration `json:"max_delay" mapstructure:"max_delay"`
	JitterFactor          float64       `json:"jitter_factor" mapstructure:"jitter_factor"`
	UseExponentialBackoff bool          `json:"use_exponential_backoff" mapstructure:"use_exponential_backoff"`
}

// RateLimitConfig configures the shared request rate limiter
type RateLimitConfig struct {
	MaxRequests int           `json:"max_requests" mapstructure:"max_requests"`
	Window      time.Duration `json:"window" mapstructure:"window"`
}

// BreakerConfig configures per-resource circuit breakers
type BreakerConfig struct {
	FailureThreshold    int           `json:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeout        time.Duration `json:"reset_timeout" mapstructure:"reset_timeout"`
	HalfOpenMaxAttempts int           `json:"half_open_max_attempts" mapstructure:"half_open_max_attempts"`
}

// OrchestratorConfig configures the multi-turn tool loop
type OrchestratorConfig struct {
	MaxTurns        int           `json:"max_turns" mapstructure:"max_turns"`
	ToolTimeout     time.Duration `json:"tool_timeout" mapstructure:"tool_timeout"`
	ContinueOnError bool          `json:"continue_on_error" mapstructure:"continue_on_error"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
		Retry: RetryConfig{
			MaxAttempts:           3,
			BaseDelay:             time.Second,
			MaxDelay:              30 * time.Second,
			JitterFactor:          0.2,
			UseExponentialBackoff: true,
		},
		RateLimit: RateLimitConfig{
			MaxRequests: 60,
			Window:      time.Minute,
		},
		Breaker: BreakerConfig{
			FailureThreshold:    5,
			ResetTimeout:        30 * time.Second,
			HalfOpenMaxAttempts: 1,
		},
		Orchestrator: OrchestratorConfig{
			MaxTurns:        5,
			ToolTimeout:     30 * time.Second,
			ContinueOnError: true,
		},
	}
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay < 0 {
		return fmt.Errorf("retry.base_delay cannot be negative")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry.max_delay must be at least base_delay")
	}
	if c.Retry.JitterFactor < 0 || c.Retry.JitterFactor > 1 {
		return fmt.Errorf("retry.jitter_factor must be between 0 and 1, got %v", c.Retry.JitterFactor)
	}
	if c.RateLimit.MaxRequests < 1 {
		return fmt.Errorf("rate_limit.max_requests must be at least 1")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold must be at least 1")
	}
	if c.Breaker.ResetTimeout <= 0 {
		return fmt.Errorf("breaker.reset_timeout must be positive")
	}
	if c.Breaker.HalfOpenMaxAttempts < 1 {
		return fmt.Errorf("breaker.half_open_max_attempts must be at least 1")
	}
	if c.Orchestrator.MaxTurns < 1 {
		return fmt.Errorf("orchestrator.max_turns must be at least 1")
	}
	if c.Orchestrator.ToolTimeout <= 0 {
		return fmt.Errorf("orchestrator.tool_timeout must be positive")
	}
	return nil
}
