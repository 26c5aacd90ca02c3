package policy

import (
	"context"
	"fmt"
)

// Service is the external policy backend collaborator. It is consumed purely
// through this contract; its wire protocol and storage are not defined here.
type Service interface {
	CheckPolicy(ctx context.Context, req Request) (Decision, error)
	RecordOutcome(ctx context.Context, req Request, success bool) error
}

// ServiceGate adapts an external Service into a Gate. Backend errors are
// surfaced as "policy unavailable", never conflated with a denial.
type ServiceGate struct {
	service Service
}

// NewServiceGate wraps the given policy service
func NewServiceGate(service Service) *ServiceGate {
	return &ServiceGate{service: service}
}

// Check delegates to the backing service
func (g *ServiceGate) Check(ctx context.Context, req Request) (Decision, error) {
	decision, err := g.service.CheckPolicy(ctx, req)
	if err != nil {
		return Decision{}, fmt.Errorf("policy backend unavailable: %w", err)
	}
	return decision, nil
}

// ReportOutcome forwards the final result of a governed execution to the
// backend. Errors are returned for the caller to log; they never affect the
// execution result.
func (g *ServiceGate) ReportOutcome(ctx context.Context, req Request, success bool) error {
	return g.service.RecordOutcome(ctx, req, success)
}
