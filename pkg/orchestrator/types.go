// Package orchestrator drives the multi-turn conversation loop between a
// model and the tool registry. Every tool invocation goes through the
// governor so policy, rate limits, circuit breaking, and auditing apply
// uniformly.
package orchestrator

import (
	"time"

	"github.com/PaulJPhilp/EffectiveAgent-sub005/pkg/governor"
)

// Message is one entry in a conversation
type Message struct {
	Role       string                 `json:"role"`
	Content    string                 `json:"content"`
	ToolCalls  []ToolCall             `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ToolCall is a model-requested tool invocation
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// ToolOutcome is the result of one governed tool invocation
type ToolOutcome struct {
	ToolCallID string        `json:"tool_call_id"`
	ToolName   string        `json:"tool_name"`
	Output     string        `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	TimedOut   bool          `json:"timed_out,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Usage tracks token consumption across a run
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// add accumulates another usage sample
func (u *Usage) add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// StopReason explains why a run ended
type StopReason string

const (
	StopCompleted StopReason = "completed"
	StopMaxTurns  StopReason = "max_turns"
	StopError     StopReason = "error"
)

// RunOptions configures one orchestrator run
type RunOptions struct {
	// MaxTurns bounds the number of model round-trips
	MaxTurns int

	// ToolTimeout bounds each individual tool invocation
	ToolTimeout time.Duration

	// ContinueOnError folds tool failures back into the conversation as
	// tool-result messages instead of stopping the run
	ContinueOnError bool

	// MaxCumulativeTokens stops the run once total usage crosses the
	// budget; 0 disables it
	MaxCumulativeTokens int

	// Governance applies to every tool invocation in the run. Resource and
	// retry settings are passed through to the governor per call.
	Governance governor.Options
}

// DefaultRunOptions returns the default run bounds
func DefaultRunOptions() RunOptions {
	return RunOptions{
		MaxTurns:    5,
		ToolTimeout: 30 * time.Second,
	}
}

// RunResult is the outcome of an orchestrator run
type RunResult struct {
	Response   string        `json:"response"`
	TurnsUsed  int           `json:"turns_used"`
	StopReason StopReason    `json:"stop_reason"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	Outcomes   []ToolOutcome `json:"outcomes,omitempty"`
	Usage      Usage         `json:"usage"`
}
