// Package effectiveagent assembles the execution governance layer: a
// governor enforcing policy, rate limits, circuit breaking, and retries
// around model and tool executions, plus the orchestrator driving multi-turn
// tool conversations. Components can also be constructed individually from
// their own packages.
package effectiveagent

import (
	"fmt"

	"github.com/PaulJPhilp/EffectiveAgent-sub005/internal/config"
	"github.com/PaulJPhilp/EffectiveAgent-sub005/internal/logger"
	"github.com/PaulJPhilp/EffectiveAgent-sub005/internal/metrics"
	"github.com/PaulJPhilp/EffectiveAgent-sub005/pkg/audit"
	"github.com/PaulJPhilp/EffectiveAgent-sub005/pkg/breaker"
	"github.com/PaulJPhilp/EffectiveAgent-sub005/pkg/governor"
	"github.com/PaulJPhilp/EffectiveAgent-sub005/pkg/orchestrator"
	"github.com/PaulJPhilp/EffectiveAgent-sub005/pkg/policy"
	"github.com/PaulJPhilp/EffectiveAgent-sub005/pkg/ratelimit"
	"github.com/PaulJPhilp/EffectiveAgent-sub005/pkg/tools"
)

// Options customizes system assembly beyond the file-backed config
type Options struct {
	// Gate authorizes executions; nil disables the policy check
	Gate policy.Gate

	// Recorder receives audit events; nil falls back to the zerolog sink
	Recorder audit.Recorder
}

// System bundles the wired governance components
type System struct {
	Config       *config.Config
	Metrics      *metrics.Metrics
	Limiter      *ratelimit.Limiter
	Breaker      *breaker.Breaker
	Governor     *governor.Governor
	Registry     *tools.Registry
	Orchestrator *orchestrator.Orchestrator

	log *logger.Logger
}

// New validates the config and wires every component
func New(cfg *config.Config, opts Options) (*System, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	zl := log.GetZerolog()

	m := metrics.New()
	limiter := ratelimit.NewLimiter(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
	brk := breaker.New(breaker.Config{
		FailureThreshold:    cfg.Breaker.FailureThreshold,
		ResetTimeout:        cfg.Breaker.ResetTimeout,
		HalfOpenMaxAttempts: cfg.Breaker.HalfOpenMaxAttempts,
	}, zl)

	gov := governor.New(governor.Config{
		Gate:     opts.Gate,
		Limiter:  limiter,
		Breaker:  brk,
		Recorder: opts.Recorder,
		Metrics:  m,
		Logger:   zl,
		DefaultRetry: governor.RetryConfig{
			MaxAttempts:           cfg.Retry.MaxAttempts,
			BaseDelay:             cfg.Retry.BaseDelay,
			MaxDelay:              cfg.Retry.MaxDelay,
			JitterFactor:          cfg.Retry.JitterFactor,
			UseExponentialBackoff: cfg.Retry.UseExponentialBackoff,
		},
	})

	registry := tools.NewRegistry(zl)

	orch, err := orchestrator.New(orchestrator.Config{
		Governor: gov,
		Registry: registry,
		Metrics:  m,
		Logger:   zl,
	})
	if err != nil {
		log.Close()
		limiter.Stop()
		return nil, err
	}

	return &System{
		Config:       cfg,
		Metrics:      m,
		Limiter:      limiter,
		Breaker:      brk,
		Governor:     gov,
		Registry:     registry,
		Orchestrator: orch,
		log:          log,
	}, nil
}

// RunOptions derives orchestrator run options from the system config
func (s *System) RunOptions() orchestrator.RunOptions {
	return orchestrator.RunOptions{
		MaxTurns:        s.Config.Orchestrator.MaxTurns,
		ToolTimeout:     s.Config.Orchestrator.ToolTimeout,
		ContinueOnError: s.Config.Orchestrator.ContinueOnError,
	}
}

// Close releases the limiter's cleanup goroutine and the log file
func (s *System) Close() error {
	s.Limiter.Stop()
	return s.log.Close()
}
