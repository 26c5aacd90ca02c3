package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the governance layer
type Metrics struct {
	registry *prometheus.Registry

	// Execution metrics
	ExecutionsTotal      *prometheus.CounterVec
	ExecutionDuration    *prometheus.HistogramVec
	ExecutionErrorsTotal *prometheus.CounterVec
	RetriesTotal         *prometheus.CounterVec

	// Circuit breaker metrics
	BreakerTransitionsTotal *prometheus.CounterVec
	BreakerOpenResources    prometheus.Gauge

	// Rate limiter metrics
	RateLimitDenialsTotal *prometheus.CounterVec

	// Tool metrics
	ToolCallsTotal    *prometheus.CounterVec
	ToolCallDuration  *prometheus.HistogramVec
	OrchestratorTurns *prometheus.HistogramVec
}

// New creates and registers all metrics on a private registry
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governed_executions_total",
				Help: "Total number of governed executions",
			},
			[]string{"status"},
		),
		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "governed_execution_duration_seconds",
				Help:    "Duration of governed executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		ExecutionErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governed_execution_errors_total",
				Help: "Total number of governed execution errors by kind",
			},
			[]string{"kind"},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governed_retries_total",
				Help: "Total number of retry attempts scheduled",
			},
			[]string{"resource"},
		),

		BreakerTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "circuit_breaker_transitions_total",
				Help: "Total number of circuit breaker state transitions",
			},
			[]string{"resource", "to_state"},
		),
		BreakerOpenResources: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_open_resources",
				Help: "Number of resources with an open circuit breaker",
			},
		),

		RateLimitDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_denials_total",
				Help: "Total number of requests denied by the rate limiter",
			},
			[]string{"key"},
		),

		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_calls_total",
				Help: "Total number of tool invocations",
			},
			[]string{"tool_name", "status"},
		),
		ToolCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tool_call_duration_seconds",
				Help:    "Duration of tool invocations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool_name"},
		),
		OrchestratorTurns: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_turns_per_run",
				Help:    "Number of model round-trips per orchestrator run",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
			},
			[]string{"stop_reason"},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.ExecutionsTotal)
	m.registry.MustRegister(m.ExecutionDuration)
	m.registry.MustRegister(m.ExecutionErrorsTotal)
	m.registry.MustRegister(m.RetriesTotal)

	m.registry.MustRegister(m.BreakerTransitionsTotal)
	m.registry.MustRegister(m.BreakerOpenResources)

	m.registry.MustRegister(m.RateLimitDenialsTotal)

	m.registry.MustRegister(m.ToolCallsTotal)
	m.registry.MustRegister(m.ToolCallDuration)
	m.registry.MustRegister(m.OrchestratorTurns)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
