package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaulJPhilp/EffectiveAgent-sub005/pkg/governor"
	"github.com/PaulJPhilp/EffectiveAgent-sub005/pkg/tools"
)

// scriptedModel returns canned responses in order and records every request
type scriptedModel struct {
	responses []*Response
	requests  []Request
	err       error
}

func (m *scriptedModel) Invoke(ctx context.Context, req Request) (*Response, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}

	idx := len(m.requests) - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx], nil
}

func toolCallResponse(calls ...ToolCall) *Response {
	return &Response{Content: "working on it", ToolCalls: calls, Usage: Usage{InputTokens: 10, OutputTokens: 5}}
}

func finalResponse(content string) *Response {
	return &Response{Content: content, Usage: Usage{InputTokens: 10, OutputTokens: 5}}
}

func newTestOrchestrator(t *testing.T, defs ...tools.Definition) *Orchestrator {
	t.Helper()

	registry := tools.NewRegistry(zerolog.Nop())
	for _, def := range defs {
		require.NoError(t, registry.Register(def))
	}

	gov := governor.New(governor.Config{Logger: zerolog.Nop()})

	o, err := New(Config{
		Governor: gov,
		Registry: registry,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	return o
}

func addTool(handler tools.Handler) tools.Definition {
	return tools.Definition{
		Name:        "add",
		Description: "Adds two numbers",
		Parameters: []tools.Parameter{
			{Name: "a", Type: "number", Description: "First operand", Required: true},
			{Name: "b", Type: "number", Description: "Second operand", Required: true},
		},
		Handler: handler,
	}
}

func userConversation(prompt string) []Message {
	return []Message{{Role: "user", Content: prompt}}
}

func TestRun(t *testing.T) {
	t.Run("should complete on a final answer", func(t *testing.T) {
		o := newTestOrchestrator(t)
		model := &scriptedModel{responses: []*Response{finalResponse("hello")}}

		result, err := o.Run(context.Background(), model, userConversation("hi"), RunOptions{})

		require.NoError(t, err)
		assert.Equal(t, StopCompleted, result.StopReason)
		assert.Equal(t, "hello", result.Response)
		assert.Equal(t, 1, result.TurnsUsed)
		assert.Empty(t, result.ToolCalls)
	})

	t.Run("should execute tool calls and fold results back", func(t *testing.T) {
		o := newTestOrchestrator(t, addTool(func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return params["a"].(float64) + params["b"].(float64), nil
		}))

		model := &scriptedModel{responses: []*Response{
			toolCallResponse(ToolCall{ID: "call-1", Name: "add", Parameters: map[string]interface{}{"a": 2.0, "b": 3.0}}),
			finalResponse("the sum is 5"),
		}}

		result, err := o.Run(context.Background(), model, userConversation("add 2 and 3"), RunOptions{})

		require.NoError(t, err)
		assert.Equal(t, StopCompleted, result.StopReason)
		assert.Equal(t, "the sum is 5", result.Response)
		assert.Equal(t, 2, result.TurnsUsed)
		require.Len(t, result.Outcomes, 1)
		assert.Equal(t, "5", result.Outcomes[0].Output)
		assert.Empty(t, result.Outcomes[0].Error)

		// Second round-trip carries the assistant turn and the tool result
		require.Len(t, model.requests, 2)
		followup := model.requests[1].Messages
		require.Len(t, followup, 3)
		assert.Equal(t, "assistant", followup[1].Role)
		assert.Equal(t, "tool", followup[2].Role)
		assert.Equal(t, "call-1", followup[2].ToolCallID)
		assert.Equal(t, "5", followup[2].Content)
	})

	t.Run("should accumulate usage across turns", func(t *testing.T) {
		o := newTestOrchestrator(t, addTool(func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return 0, nil
		}))

		model := &scriptedModel{responses: []*Response{
			toolCallResponse(ToolCall{ID: "c1", Name: "add", Parameters: map[string]interface{}{"a": 1.0, "b": 1.0}}),
			finalResponse("done"),
		}}

		result, err := o.Run(context.Background(), model, userConversation("go"), RunOptions{})

		require.NoError(t, err)
		assert.Equal(t, 20, result.Usage.InputTokens)
		assert.Equal(t, 10, result.Usage.OutputTokens)
	})

	t.Run("should stop at the turn budget", func(t *testing.T) {
		o := newTestOrchestrator(t, addTool(func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return 0, nil
		}))

		// Model never stops asking for tools
		model := &scriptedModel{responses: []*Response{
			toolCallResponse(ToolCall{ID: "c", Name: "add", Parameters: map[string]interface{}{"a": 1.0, "b": 1.0}}),
		}}

		result, err := o.Run(context.Background(), model, userConversation("loop"), RunOptions{MaxTurns: 5})

		require.NoError(t, err)
		assert.Equal(t, StopMaxTurns, result.StopReason)
		assert.Equal(t, 5, result.TurnsUsed)
		assert.Len(t, model.requests, 5)

		// Best available result is the last model output
		assert.Equal(t, "working on it", result.Response)
	})

	t.Run("should surface model errors", func(t *testing.T) {
		o := newTestOrchestrator(t)
		model := &scriptedModel{err: errors.New("upstream 500")}

		result, err := o.Run(context.Background(), model, userConversation("hi"), RunOptions{})

		require.Error(t, err)
		assert.Equal(t, StopError, result.StopReason)
		assert.ErrorContains(t, err, "model invocation failed")
	})

	t.Run("should stop on an interrupted context", func(t *testing.T) {
		o := newTestOrchestrator(t)
		model := &scriptedModel{responses: []*Response{finalResponse("never")}}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result, err := o.Run(ctx, model, userConversation("hi"), RunOptions{})

		require.Error(t, err)
		assert.Equal(t, StopError, result.StopReason)
		assert.True(t, governor.IsKind(err, governor.KindInterrupted))
		assert.Empty(t, model.requests)
	})
}

func TestRunToolFailures(t *testing.T) {
	failingAdd := addTool(func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return nil, errors.New("division by zero")
	})

	t.Run("should stop on the first tool error by default", func(t *testing.T) {
		o := newTestOrchestrator(t, failingAdd)

		model := &scriptedModel{responses: []*Response{
			toolCallResponse(ToolCall{ID: "c1", Name: "add", Parameters: map[string]interface{}{"a": 1.0, "b": 1.0}}),
			finalResponse("unreachable"),
		}}

		result, err := o.Run(context.Background(), model, userConversation("go"), RunOptions{})

		require.Error(t, err)
		assert.Equal(t, StopError, result.StopReason)
		assert.True(t, governor.IsKind(err, governor.KindToolFailed))
		assert.Len(t, model.requests, 1)
	})

	t.Run("should fold errors back when continuing", func(t *testing.T) {
		o := newTestOrchestrator(t, failingAdd)

		model := &scriptedModel{responses: []*Response{
			toolCallResponse(ToolCall{ID: "c1", Name: "add", Parameters: map[string]interface{}{"a": 1.0, "b": 1.0}}),
			finalResponse("recovered"),
		}}

		result, err := o.Run(context.Background(), model, userConversation("go"), RunOptions{ContinueOnError: true})

		require.NoError(t, err)
		assert.Equal(t, StopCompleted, result.StopReason)
		require.Len(t, result.Outcomes, 1)
		assert.NotEmpty(t, result.Outcomes[0].Error)

		// The error text reaches the model as a tool result
		followup := model.requests[1].Messages
		assert.Equal(t, "tool", followup[len(followup)-1].Role)
		assert.Contains(t, followup[len(followup)-1].Content, "division by zero")
	})

	t.Run("should isolate sibling outcomes in a round", func(t *testing.T) {
		calls := map[string]int{}
		multi := tools.Definition{
			Name:        "flaky",
			Description: "Fails for one input",
			Parameters: []tools.Parameter{
				{Name: "key", Type: "string", Description: "Input key", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				key := params["key"].(string)
				calls[key]++
				if key == "bad" {
					return nil, errors.New("bad input rejected")
				}
				return "ok:" + key, nil
			},
		}
		o := newTestOrchestrator(t, multi)

		model := &scriptedModel{responses: []*Response{
			toolCallResponse(
				ToolCall{ID: "c1", Name: "flaky", Parameters: map[string]interface{}{"key": "bad"}},
				ToolCall{ID: "c2", Name: "flaky", Parameters: map[string]interface{}{"key": "good"}},
			),
			finalResponse("done"),
		}}

		result, err := o.Run(context.Background(), model, userConversation("go"), RunOptions{ContinueOnError: true})

		require.NoError(t, err)
		require.Len(t, result.Outcomes, 2)
		assert.NotEmpty(t, result.Outcomes[0].Error)
		assert.Equal(t, "ok:good", result.Outcomes[1].Output)
		assert.Equal(t, 1, calls["bad"])
		assert.Equal(t, 1, calls["good"])
	})

	t.Run("should report unknown tools without invoking the model again", func(t *testing.T) {
		o := newTestOrchestrator(t)

		model := &scriptedModel{responses: []*Response{
			toolCallResponse(ToolCall{ID: "c1", Name: "missing", Parameters: map[string]interface{}{}}),
			finalResponse("done"),
		}}

		result, err := o.Run(context.Background(), model, userConversation("go"), RunOptions{ContinueOnError: true})

		require.NoError(t, err)
		require.NotEmpty(t, result.Outcomes)
		assert.Contains(t, result.Outcomes[0].Error, "tool not found")
	})

	t.Run("should reject invalid tool arguments before execution", func(t *testing.T) {
		invoked := false
		o := newTestOrchestrator(t, addTool(func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			invoked = true
			return 0, nil
		}))

		model := &scriptedModel{responses: []*Response{
			toolCallResponse(ToolCall{ID: "c1", Name: "add", Parameters: map[string]interface{}{"a": "one"}}),
			finalResponse("done"),
		}}

		result, err := o.Run(context.Background(), model, userConversation("go"), RunOptions{ContinueOnError: true})

		require.NoError(t, err)
		assert.Contains(t, result.Outcomes[0].Error, "invalid tool arguments")
		assert.False(t, invoked)
	})
}

func TestRunToolTimeout(t *testing.T) {
	t.Run("should time out a slow tool", func(t *testing.T) {
		slow := tools.Definition{
			Name:        "slow",
			Description: "Sleeps past the timeout",
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Second):
					return "too late", nil
				}
			},
		}
		o := newTestOrchestrator(t, slow)

		model := &scriptedModel{responses: []*Response{
			toolCallResponse(ToolCall{ID: "c1", Name: "slow", Parameters: map[string]interface{}{}}),
			finalResponse("done"),
		}}

		result, err := o.Run(context.Background(), model, userConversation("go"), RunOptions{
			ToolTimeout: 20 * time.Millisecond,
		})

		require.Error(t, err)
		assert.Equal(t, StopError, result.StopReason)
		assert.True(t, governor.IsKind(err, governor.KindToolTimeout))
		require.Len(t, result.Outcomes, 1)
		assert.True(t, result.Outcomes[0].TimedOut)
	})
}

func TestRunTokenBudget(t *testing.T) {
	t.Run("should stop once the budget is spent", func(t *testing.T) {
		o := newTestOrchestrator(t, addTool(func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return 0, nil
		}))

		// 15 tokens per turn; the budget allows two turns
		model := &scriptedModel{responses: []*Response{
			toolCallResponse(ToolCall{ID: "c", Name: "add", Parameters: map[string]interface{}{"a": 1.0, "b": 1.0}}),
		}}

		result, err := o.Run(context.Background(), model, userConversation("go"), RunOptions{
			MaxCumulativeTokens: 30,
		})

		require.Error(t, err)
		assert.Equal(t, StopError, result.StopReason)
		assert.ErrorContains(t, err, "token budget")
		assert.Equal(t, 2, result.TurnsUsed)
	})
}
