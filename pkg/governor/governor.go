package governor

import (
	"context"
	"errors"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/PaulJPhilp/EffectiveAgent-sub005/internal/metrics"
	"github.com/PaulJPhilp/EffectiveAgent-sub005/pkg/audit"
	"github.com/PaulJPhilp/EffectiveAgent-sub005/pkg/breaker"
	"github.com/PaulJPhilp/EffectiveAgent-sub005/pkg/policy"
	"github.com/PaulJPhilp/EffectiveAgent-sub005/pkg/ratelimit"
)

// Operation is the caller-supplied unit of work governed by Execute. It must
// honor ctx cancellation.
type Operation func(ctx context.Context) (interface{}, error)

// TokenReporter is implemented by operation results or errors that carry
// token usage, enabling the optional cumulative token budget.
type TokenReporter interface {
	TokensUsed() int
}

// AuthContext carries the caller identity for auth validation
type AuthContext struct {
	Identity string
	Token    string
	Metadata map[string]string
}

// AuthValidator validates an auth context before any attempt is made
type AuthValidator func(ctx context.Context, auth *AuthContext) error

// Options configures one governed execution
type Options struct {
	// Auth and AuthValidator enable the auth check (step 3)
	Auth          *AuthContext
	AuthValidator AuthValidator

	// RateLimitKey enables the rate limit check (step 2) when the governor
	// has a limiter
	RateLimitKey string

	// Policy enables the policy gate check (step 4) when the governor has
	// a gate
	Policy *policy.Request

	// Resource keys the circuit breaker (step 5); defaults to the policy
	// model id when unset
	Resource string

	// Retry overrides the governor's default retry config
	Retry *RetryConfig

	// NonRetryable overrides the default non-retryable classification
	NonRetryable func(error) bool

	// MaxCumulativeTokens caps token usage across all attempts; 0 disables
	// the budget. Attempt outcomes report usage via TokenReporter.
	MaxCumulativeTokens int
}

// Config wires the governor's collaborators. Everything except Logger is
// optional; a nil collaborator disables the corresponding check.
type Config struct {
	Gate         policy.Gate
	Limiter      *ratelimit.Limiter
	Breaker      *breaker.Breaker
	Recorder     audit.Recorder
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
	DefaultRetry RetryConfig
	MaxHistory   int
}

// Governor composes policy, rate limiting, circuit breaking, retry, state
// tracking, and auditing around one caller-supplied operation
type Governor struct {
	gate         policy.Gate
	limiter      *ratelimit.Limiter
	breaker      *breaker.Breaker
	recorder     audit.Recorder
	metrics      *metrics.Metrics
	tracker      *Tracker
	logger       zerolog.Logger
	defaultRetry RetryConfig
}

// New creates a governor from config
func New(cfg Config) *Governor {
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = audit.NewLogger(cfg.Logger)
	}

	defaultRetry := cfg.DefaultRetry
	if defaultRetry.MaxAttempts == 0 {
		defaultRetry = DefaultRetryConfig()
	}

	g := &Governor{
		gate:         cfg.Gate,
		limiter:      cfg.Limiter,
		breaker:      cfg.Breaker,
		recorder:     recorder,
		metrics:      cfg.Metrics,
		tracker:      NewTracker(cfg.MaxHistory),
		logger:       cfg.Logger,
		defaultRetry: defaultRetry,
	}

	if g.breaker != nil && g.metrics != nil {
		g.breaker.OnTransition(func(resource string, from, to breaker.State) {
			g.metrics.BreakerTransitionsTotal.WithLabelValues(resource, string(to)).Inc()
			// The gauge counts resources currently open, so it moves only
			// when open-ness itself changes; a failed half-open probe
			// re-enters open without passing through closed
			if to == breaker.StateOpen && from != breaker.StateOpen {
				g.metrics.BreakerOpenResources.Inc()
			}
			if from == breaker.StateOpen && to != breaker.StateOpen {
				g.metrics.BreakerOpenResources.Dec()
			}
		})
	}

	return g
}

// Tracker exposes the execution state tracker for inspection
func (g *Governor) Tracker() *Tracker {
	return g.tracker
}

// Execute runs the operation under full governance. It returns the
// operation's result or exactly one governed error kind; raw operation
// errors are never passed through unwrapped.
func (g *Governor) Execute(ctx context.Context, op Operation, opts Options) (interface{}, error) {
	executionID, err := gonanoid.New()
	if err != nil {
		return nil, NewError(KindExecutionFailed, "", "failed to generate execution id", err)
	}

	start := time.Now()
	logger := g.logger.With().Str("execution_id", executionID).Logger()

	g.tracker.SetState(executionID, StatePending, "")
	g.record(ctx, executionID, audit.EventStarted, map[string]interface{}{
		"resource": g.resourceFor(opts),
	})

	// Cancellation may already have happened before any check
	if ctx.Err() != nil {
		return nil, g.fail(ctx, executionID, start, KindInterrupted, "execution interrupted", ctx.Err())
	}

	// Step 2: rate limit
	if g.limiter != nil && opts.RateLimitKey != "" {
		result := g.limiter.Allow(opts.RateLimitKey)
		g.record(ctx, executionID, audit.EventPolicyChecked, map[string]interface{}{
			"check_type":    "rate_limit",
			"allowed":       result.Allowed,
			"current_count": result.CurrentCount,
		})
		if !result.Allowed {
			if g.metrics != nil {
				g.metrics.RateLimitDenialsTotal.WithLabelValues(opts.RateLimitKey).Inc()
			}
			logger.Warn().
				Str("key", opts.RateLimitKey).
				Dur("retry_after", result.RetryAfter).
				Msg("Execution denied by rate limiter")
			return nil, g.fail(ctx, executionID, start, KindRateLimited,
				"rate limit exceeded, retry after "+result.RetryAfter.String(), nil)
		}
	}

	// Step 3: auth
	if opts.AuthValidator != nil {
		authErr := opts.AuthValidator(ctx, opts.Auth)
		g.record(ctx, executionID, audit.EventPolicyChecked, map[string]interface{}{
			"check_type": "auth",
			"allowed":    authErr == nil,
		})
		if authErr != nil {
			return nil, g.fail(ctx, executionID, start, KindAuthFailed, "auth validation failed", authErr)
		}
	}

	// Step 4: policy gate
	if g.gate != nil && opts.Policy != nil {
		decision, gateErr := g.gate.Check(ctx, *opts.Policy)
		if gateErr != nil {
			g.record(ctx, executionID, audit.EventPolicyChecked, map[string]interface{}{
				"check_type":  "policy",
				"allowed":     false,
				"unavailable": true,
			})
			return nil, g.fail(ctx, executionID, start, KindPolicyUnavailable, "policy backend unavailable", gateErr)
		}
		g.record(ctx, executionID, audit.EventPolicyChecked, map[string]interface{}{
			"check_type": "policy",
			"allowed":    decision.Allowed,
			"reason":     decision.Reason,
		})
		if !decision.Allowed {
			return nil, g.fail(ctx, executionID, start, KindPolicyDenied, decision.Reason, nil)
		}
	}

	// Step 5: circuit breaker
	resource := g.resourceFor(opts)
	if g.breaker != nil && resource != "" {
		if !g.breaker.Allow(resource) {
			logger.Warn().Str("resource", resource).Msg("Execution denied by open circuit")
			return nil, g.fail(ctx, executionID, start, KindCircuitOpen,
				"circuit open for resource "+resource, nil)
		}
	}

	// Step 6: invoke through the retry scheduler
	value, execErr := g.runAttempts(ctx, executionID, logger, op, opts, resource)
	if execErr != nil {
		var ge *Error
		if errors.As(execErr, &ge) {
			return nil, g.fail(ctx, executionID, start, ge.Kind, ge.Reason, ge.Err)
		}
		return nil, g.fail(ctx, executionID, start, KindExecutionFailed, "operation failed", execErr)
	}

	// Step 7: terminal success
	g.tracker.SetState(executionID, StateCompleted, "")
	g.record(ctx, executionID, audit.EventCompleted, map[string]interface{}{
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if g.metrics != nil {
		g.metrics.ExecutionsTotal.WithLabelValues(string(StateCompleted)).Inc()
		g.metrics.ExecutionDuration.WithLabelValues(string(StateCompleted)).Observe(time.Since(start).Seconds())
	}
	logger.Debug().Dur("duration", time.Since(start)).Msg("Execution completed")

	return value, nil
}

// runAttempts drives the bounded, jittered retry loop around the operation.
// Circuit breaker outcomes are recorded per attempt. The returned error is
// either a governed *Error (interrupted, budget exhausted) or the last raw
// operation error after retries are exhausted.
func (g *Governor) runAttempts(ctx context.Context, executionID string, logger zerolog.Logger, op Operation, opts Options, resource string) (interface{}, error) {
	retryCfg := g.defaultRetry
	if opts.Retry != nil {
		retryCfg = *opts.Retry
	}
	if retryCfg.MaxAttempts < 1 {
		retryCfg.MaxAttempts = 1
	}

	nonRetryable := opts.NonRetryable
	if nonRetryable == nil {
		nonRetryable = IsNonRetryable
	}

	var lastErr error
	tokensUsed := 0

	for attempt := 1; attempt <= retryCfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			g.record(ctx, executionID, audit.EventRetryAttempted, map[string]interface{}{
				"attempt":      attempt,
				"max_attempts": retryCfg.MaxAttempts,
			})
			if g.metrics != nil {
				g.metrics.RetriesTotal.WithLabelValues(resource).Inc()
			}

			delay := retryCfg.delayBeforeRetry(attempt - 1)
			logger.Info().
				Int("attempt", attempt).
				Int("max_attempts", retryCfg.MaxAttempts).
				Dur("delay", delay).
				Msg("Retrying after error")

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, NewError(KindInterrupted, executionID, "execution interrupted during retry wait", ctx.Err())
			case <-timer.C:
			}
		}

		// Cancellation between attempt completion and retry scheduling must
		// still resolve to the interrupted path
		if ctx.Err() != nil {
			// No attempt ran yet, so no outcome will reach the breaker;
			// return the admitted half-open slot or the circuit can never
			// leave half-open
			if attempt == 1 && g.breaker != nil && resource != "" {
				g.breaker.ReleaseProbe(resource)
			}
			return nil, NewError(KindInterrupted, executionID, "execution interrupted", ctx.Err())
		}

		value, err := op(ctx)
		if err == nil {
			if g.breaker != nil && resource != "" {
				g.breaker.RecordSuccess(resource)
			}
			return value, nil
		}

		lastErr = err
		if g.breaker != nil && resource != "" {
			g.breaker.RecordFailure(resource)
		}

		if ctx.Err() != nil {
			return nil, NewError(KindInterrupted, executionID, "execution interrupted", ctx.Err())
		}

		if opts.MaxCumulativeTokens > 0 {
			var reporter TokenReporter
			if errors.As(err, &reporter) {
				tokensUsed += reporter.TokensUsed()
			}
			if tokensUsed >= opts.MaxCumulativeTokens {
				return nil, NewError(KindExecutionFailed, executionID,
					"cumulative token budget exceeded", lastErr)
			}
		}

		if nonRetryable(err) {
			logger.Warn().Err(err).Msg("Non-retryable error, skipping remaining retries")
			break
		}
	}

	return nil, lastErr
}

// fail marks the execution failed, audits it, and returns the governed error
func (g *Governor) fail(ctx context.Context, executionID string, start time.Time, kind Kind, reason string, underlying error) error {
	detail := reason
	if underlying != nil {
		detail = reason + ": " + underlying.Error()
	}

	g.tracker.SetState(executionID, StateFailed, detail)
	g.record(ctx, executionID, audit.EventFailed, map[string]interface{}{
		"kind":        string(kind),
		"error":       detail,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if g.metrics != nil {
		g.metrics.ExecutionsTotal.WithLabelValues(string(StateFailed)).Inc()
		g.metrics.ExecutionErrorsTotal.WithLabelValues(string(kind)).Inc()
	}

	return NewError(kind, executionID, reason, underlying)
}

// record emits an audit event, fire and forget
func (g *Governor) record(ctx context.Context, executionID, eventType string, details map[string]interface{}) {
	g.recorder.Record(ctx, audit.Event{
		ExecutionID: executionID,
		Type:        eventType,
		Details:     details,
	})
}

// resourceFor resolves the circuit breaker key for the options
func (g *Governor) resourceFor(opts Options) string {
	if opts.Resource != "" {
		return opts.Resource
	}
	if opts.Policy != nil {
		return opts.Policy.ModelID
	}
	return ""
}
