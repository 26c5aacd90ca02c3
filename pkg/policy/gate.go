package policy

import (
	"context"
)

// Request describes what an execution wants to do. It is evaluated fresh per
// attempt and never persisted.
type Request struct {
	Identity      string            `json:"identity,omitempty"`
	ModelID       string            `json:"model_id,omitempty"`
	OperationType string            `json:"operation_type,omitempty"`
	PipelineID    string            `json:"pipeline_id,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
}

// Decision is the outcome of a policy check
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Gate is the authorization decision point consulted before each execution.
// A non-nil error means the policy backend itself is unavailable, which is a
// distinct condition from a denial.
type Gate interface {
	Check(ctx context.Context, req Request) (Decision, error)
}

// Rules configures a RuleGate. Deny entries win over allow entries; "*"
// matches everything. An empty allow list denies by default.
type Rules struct {
	AllowModels     []string `json:"allow_models"`
	DenyModels      []string `json:"deny_models"`
	AllowOperations []string `json:"allow_operations"`
	DenyOperations  []string `json:"deny_operations"`
	RequiredTags    []string `json:"required_tags"`
}

// RuleGate is an in-process Gate evaluating static allow/deny rules
type RuleGate struct {
	rules Rules
}

// NewRuleGate creates a gate from the given rules
func NewRuleGate(rules Rules) *RuleGate {
	return &RuleGate{rules: rules}
}

// AllowAll returns a gate that permits every request
func AllowAll() *RuleGate {
	return NewRuleGate(Rules{
		AllowModels:     []string{"*"},
		AllowOperations: []string{"*"},
	})
}

// Check evaluates the request against the configured rules
func (g *RuleGate) Check(ctx context.Context, req Request) (Decision, error) {
	if req.ModelID != "" {
		if matches(g.rules.DenyModels, req.ModelID) {
			return Decision{Allowed: false, Reason: "model denied by policy: " + req.ModelID}, nil
		}
		if !matches(g.rules.AllowModels, req.ModelID) {
			return Decision{Allowed: false, Reason: "model not in allow list: " + req.ModelID}, nil
		}
	}

	if req.OperationType != "" {
		if matches(g.rules.DenyOperations, req.OperationType) {
			return Decision{Allowed: false, Reason: "operation denied by policy: " + req.OperationType}, nil
		}
		if !matches(g.rules.AllowOperations, req.OperationType) {
			return Decision{Allowed: false, Reason: "operation not in allow list: " + req.OperationType}, nil
		}
	}

	for _, tag := range g.rules.RequiredTags {
		if _, ok := req.Tags[tag]; !ok {
			return Decision{Allowed: false, Reason: "missing required tag: " + tag}, nil
		}
	}

	return Decision{Allowed: true}, nil
}

// matches reports whether value is covered by the list ("*" matches all)
func matches(list []string, value string) bool {
	for _, entry := range list {
		if entry == value || entry == "*" {
			return true
		}
	}
	return false
}
