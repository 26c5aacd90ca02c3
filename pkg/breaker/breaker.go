package breaker

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State of a per-resource circuit
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config holds circuit breaker thresholds
type Config struct {
	FailureThreshold    int           // consecutive failures before opening
	ResetTimeout        time.Duration // how long to stay open before probing
	HalfOpenMaxAttempts int           // max concurrent probes while half-open
}

// DefaultConfig returns the default breaker thresholds
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		ResetTimeout:        30 * time.Second,
		HalfOpenMaxAttempts: 1,
	}
}

// circuit tracks failure state for one resource
type circuit struct {
	state               State
	consecutiveFailures int
	openedAt            time.Time
	halfOpenInFlight    int
}

// Breaker is a per-resource failure-rate state machine. While a resource's
// circuit is open, Allow short-circuits without consulting the underlying
// operation.
type Breaker struct {
	config   Config
	circuits map[string]*circuit
	logger   zerolog.Logger
	mu       sync.Mutex

	// onTransition, when set, is called with the resource and the old and
	// new state on every state change. Called under the mutex; keep it
	// cheap.
	onTransition func(resource string, from, to State)
}

// New creates a circuit breaker with the given config
func New(config Config, logger zerolog.Logger) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = DefaultConfig().ResetTimeout
	}
	if config.HalfOpenMaxAttempts <= 0 {
		config.HalfOpenMaxAttempts = DefaultConfig().HalfOpenMaxAttempts
	}

	return &Breaker{
		config:   config,
		circuits: make(map[string]*circuit),
		logger:   logger,
	}
}

// OnTransition registers a state-change callback (used for metrics)
func (b *Breaker) OnTransition(fn func(resource string, from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTransition = fn
}

// Allow reports whether an execution against the resource may proceed.
// While half-open it admits at most HalfOpenMaxAttempts concurrent probes.
func (b *Breaker) Allow(resource string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(resource)

	switch c.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(c.openedAt) >= b.config.ResetTimeout {
			b.transition(resource, c, StateHalfOpen)
			c.halfOpenInFlight = 1
			return true
		}
		return false

	case StateHalfOpen:
		if c.halfOpenInFlight < b.config.HalfOpenMaxAttempts {
			c.halfOpenInFlight++
			return true
		}
		return false
	}

	return true
}

// RecordSuccess records a successful attempt against the resource. A probe
// success while half-open closes the circuit.
func (b *Breaker) RecordSuccess(resource string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(resource)
	switch c.state {
	case StateHalfOpen:
		b.transition(resource, c, StateClosed)
		c.consecutiveFailures = 0
		c.halfOpenInFlight = 0
	case StateClosed:
		c.consecutiveFailures = 0
	}
}

// RecordFailure records a failed attempt against the resource. A probe
// failure while half-open re-opens the circuit; enough consecutive failures
// while closed open it.
func (b *Breaker) RecordFailure(resource string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(resource)
	switch c.state {
	case StateHalfOpen:
		b.transition(resource, c, StateOpen)
		c.openedAt = time.Now()
		c.halfOpenInFlight = 0
	case StateClosed:
		c.consecutiveFailures++
		if c.consecutiveFailures >= b.config.FailureThreshold {
			b.transition(resource, c, StateOpen)
			c.openedAt = time.Now()
		}
	case StateOpen:
		// Late failure from an execution admitted before opening
		c.openedAt = time.Now()
	}
}

// ReleaseProbe returns an admitted half-open probe slot without recording an
// outcome. Callers use it when an execution was admitted but abandoned before
// its first attempt; without the release the slot would stay occupied and,
// with it, the circuit could never leave half-open.
func (b *Breaker) ReleaseProbe(resource string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, exists := b.circuits[resource]
	if !exists {
		return
	}
	if c.state == StateHalfOpen && c.halfOpenInFlight > 0 {
		c.halfOpenInFlight--
	}
}

// State returns the current state for the resource
func (b *Breaker) State(resource string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, exists := b.circuits[resource]
	if !exists {
		return StateClosed
	}

	// An open circuit past its reset timeout will probe on next Allow
	return c.state
}

// ConsecutiveFailures returns the current failure streak for the resource
func (b *Breaker) ConsecutiveFailures(resource string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, exists := b.circuits[resource]
	if !exists {
		return 0
	}
	return c.consecutiveFailures
}

// circuit returns the tracked circuit for a resource, creating it closed.
// Callers must hold the mutex.
func (b *Breaker) circuit(resource string) *circuit {
	c, exists := b.circuits[resource]
	if !exists {
		c = &circuit{state: StateClosed}
		b.circuits[resource] = c
	}
	return c
}

// transition changes state and notifies. Callers must hold the mutex.
func (b *Breaker) transition(resource string, c *circuit, to State) {
	from := c.state
	c.state = to

	b.logger.Info().
		Str("resource", resource).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Circuit breaker state changed")

	if b.onTransition != nil {
		b.onTransition(resource, from, to)
	}
}
