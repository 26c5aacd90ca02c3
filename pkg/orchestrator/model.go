package orchestrator

import (
	"context"

	"github.com/PaulJPhilp/EffectiveAgent-sub005/pkg/tools"
)

// Request is one model round-trip
type Request struct {
	Messages []Message
	Tools    []tools.Definition
}

// Response is what the model returned for one round-trip. Empty ToolCalls
// means the model produced a final answer.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Model is the capability the orchestrator drives. Adapters map Request and
// Response to a concrete provider API.
type Model interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// inputSchemaFor builds the JSON-schema shaped tool parameter description
// providers expect
func inputSchemaFor(def tools.Definition) map[string]interface{} {
	properties := make(map[string]interface{})
	required := []string{}

	for _, param := range def.Parameters {
		prop := map[string]interface{}{
			"type": param.Type,
		}
		if param.Description != "" {
			prop["description"] = param.Description
		}
		properties[param.Name] = prop

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}
