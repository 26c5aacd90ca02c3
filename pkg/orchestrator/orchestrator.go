package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/PaulJPhilp/EffectiveAgent-sub005/internal/metrics"
	"github.com/PaulJPhilp/EffectiveAgent-sub005/pkg/governor"
	"github.com/PaulJPhilp/EffectiveAgent-sub005/pkg/tools"
)

// Orchestrator runs the model/tool conversation loop
type Orchestrator struct {
	governor *governor.Governor
	registry *tools.Registry
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// Config wires the orchestrator's collaborators. Governor and Registry are
// required; Metrics is optional.
type Config struct {
	Governor *governor.Governor
	Registry *tools.Registry
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

// New creates an orchestrator from config
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Governor == nil {
		return nil, fmt.Errorf("governor is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}

	return &Orchestrator{
		governor: cfg.Governor,
		registry: cfg.Registry,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}, nil
}

// Run drives the conversation until the model answers without tool calls,
// the turn budget runs out, or a tool error stops the run. The returned
// RunResult is non-nil whenever at least one turn completed; on a stop with
// reason error it accompanies the error.
func (o *Orchestrator) Run(ctx context.Context, model Model, conversation []Message, opts RunOptions) (*RunResult, error) {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultRunOptions().MaxTurns
	}
	if opts.ToolTimeout <= 0 {
		opts.ToolTimeout = DefaultRunOptions().ToolTimeout
	}

	messages := make([]Message, len(conversation))
	copy(messages, conversation)

	defs := o.registry.Definitions()

	result := &RunResult{}

	for turn := 1; turn <= opts.MaxTurns; turn++ {
		if ctx.Err() != nil {
			return o.finish(result, StopError), governor.NewError(
				governor.KindInterrupted, "", "run interrupted", ctx.Err())
		}

		response, err := model.Invoke(ctx, Request{Messages: messages, Tools: defs})
		if err != nil {
			return o.finish(result, StopError), fmt.Errorf("model invocation failed: %w", err)
		}

		result.TurnsUsed = turn
		result.Usage.add(response.Usage)
		// Keep the last model output so a max_turns stop still returns the
		// best available result
		result.Response = response.Content

		if opts.MaxCumulativeTokens > 0 && result.Usage.Total() >= opts.MaxCumulativeTokens {
			return o.finish(result, StopError), governor.NewError(
				governor.KindExecutionFailed, "", "cumulative token budget exceeded", nil)
		}

		// Final answer
		if len(response.ToolCalls) == 0 {
			return o.finish(result, StopCompleted), nil
		}

		o.logger.Debug().
			Int("turn", turn).
			Int("tool_calls", len(response.ToolCalls)).
			Msg("Model requested tool calls")

		outcomes := o.runToolCalls(ctx, response.ToolCalls, opts)
		result.ToolCalls = append(result.ToolCalls, response.ToolCalls...)
		result.Outcomes = append(result.Outcomes, outcomes...)

		if !opts.ContinueOnError {
			for _, outcome := range outcomes {
				if outcome.Error != "" {
					kind := governor.KindToolFailed
					if outcome.TimedOut {
						kind = governor.KindToolTimeout
					}
					return o.finish(result, StopError), governor.NewError(
						kind, "",
						fmt.Sprintf("tool %s failed: %s", outcome.ToolName, outcome.Error), nil)
				}
			}
		}

		// Fold the round back into the conversation
		messages = append(messages, Message{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})
		for _, outcome := range outcomes {
			content := outcome.Output
			if outcome.Error != "" {
				content = outcome.Error
			}
			messages = append(messages, Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: outcome.ToolCallID,
			})
		}
	}

	return o.finish(result, StopMaxTurns), nil
}

// runToolCalls executes one round of tool calls. Outcomes are isolated: a
// failing call never drops a sibling's result.
func (o *Orchestrator) runToolCalls(ctx context.Context, calls []ToolCall, opts RunOptions) []ToolOutcome {
	outcomes := make([]ToolOutcome, 0, len(calls))
	for _, call := range calls {
		outcomes = append(outcomes, o.runToolCall(ctx, call, opts))
	}
	return outcomes
}

// runToolCall executes one tool call through the governor under the tool
// timeout
func (o *Orchestrator) runToolCall(ctx context.Context, call ToolCall, opts RunOptions) ToolOutcome {
	start := time.Now()
	outcome := ToolOutcome{ToolCallID: call.ID, ToolName: call.Name}

	def, ok := o.registry.Get(call.Name)
	if !ok {
		outcome.Error = fmt.Sprintf("tool not found: %s", call.Name)
		outcome.Duration = time.Since(start)
		o.observeToolCall(call.Name, "error", outcome.Duration)
		return outcome
	}

	if err := o.registry.Validate(call.Name, call.Parameters); err != nil {
		outcome.Error = fmt.Sprintf("invalid tool arguments: %v", err)
		outcome.Duration = time.Since(start)
		o.observeToolCall(call.Name, "error", outcome.Duration)
		return outcome
	}

	toolCtx, cancel := context.WithTimeout(ctx, opts.ToolTimeout)
	defer cancel()

	govOpts := opts.Governance
	if govOpts.Resource == "" {
		govOpts.Resource = "tool:" + call.Name
	}
	// Tool handlers are not assumed idempotent; retrying them is opt-in
	// through Governance.Retry
	if govOpts.Retry == nil {
		govOpts.Retry = &governor.RetryConfig{MaxAttempts: 1}
	}

	value, err := o.governor.Execute(toolCtx, func(c context.Context) (interface{}, error) {
		return def.Handler(c, call.Parameters)
	}, govOpts)

	outcome.Duration = time.Since(start)

	if err != nil {
		// A deadline on the tool context surfaces as an interrupted
		// execution; report it as a timeout of this tool call
		if errors.Is(toolCtx.Err(), context.DeadlineExceeded) {
			outcome.TimedOut = true
			outcome.Error = fmt.Sprintf("tool timed out after %v", opts.ToolTimeout)
			o.logger.Warn().
				Str("tool", call.Name).
				Dur("timeout", opts.ToolTimeout).
				Msg("Tool call timed out")
			o.observeToolCall(call.Name, "timeout", outcome.Duration)
			return outcome
		}

		outcome.Error = err.Error()
		o.logger.Warn().Str("tool", call.Name).Err(err).Msg("Tool call failed")
		o.observeToolCall(call.Name, "error", outcome.Duration)
		return outcome
	}

	outcome.Output = fmt.Sprintf("%v", value)
	o.observeToolCall(call.Name, "success", outcome.Duration)
	return outcome
}

// finish stamps the stop reason and records run metrics
func (o *Orchestrator) finish(result *RunResult, reason StopReason) *RunResult {
	result.StopReason = reason
	if o.metrics != nil {
		o.metrics.OrchestratorTurns.WithLabelValues(string(reason)).Observe(float64(result.TurnsUsed))
	}
	return result
}

// observeToolCall records per-tool metrics
func (o *Orchestrator) observeToolCall(name, status string, duration time.Duration) {
	if o.metrics == nil {
		return
	}
	o.metrics.ToolCallsTotal.WithLabelValues(name, status).Inc()
	o.metrics.ToolCallDuration.WithLabelValues(name).Observe(duration.Seconds())
}
