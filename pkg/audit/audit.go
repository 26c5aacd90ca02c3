package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types emitted over an execution's lifecycle.
const (
	EventStarted        = "started"
	EventPolicyChecked  = "policy_checked"
	EventRetryAttempted = "retry_attempted"
	EventCompleted      = "completed"
	EventFailed         = "failed"
)

// Event is a structured lifecycle event for one governed execution
type Event struct {
	ID          string                 `json:"id"`
	ExecutionID string                 `json:"execution_id"`
	Type        string                 `json:"event_type"`
	Timestamp   time.Time              `json:"timestamp"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// Recorder is an append-only sink of lifecycle events. Record is fire and
// forget: a recorder must never surface an error into the governed operation.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// stamp fills in the generated fields of an event
func stamp(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
}

// Logger records events as structured zerolog entries
type Logger struct {
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewLogger creates a zerolog-backed recorder
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger}
}

// Record emits the event to the log. Events for the same execution id are
// appended in emission order; the mutex serializes interleaved writers.
func (l *Logger) Record(ctx context.Context, event Event) {
	stamp(&event)

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.logger.Log().
		Str("audit_id", event.ID).
		Str("execution_id", event.ExecutionID).
		Str("event_type", event.Type).
		Time("timestamp", event.Timestamp)

	if event.Details != nil {
		entry = entry.Interface("details", event.Details)
	}

	entry.Msg("audit")
}

// Memory keeps events in emission order, grouped by execution id. Used for
// inspection and tests.
type Memory struct {
	mu     sync.Mutex
	events []Event
	byExec map[string][]Event
}

// NewMemory creates an in-memory recorder
func NewMemory() *Memory {
	return &Memory{
		byExec: make(map[string][]Event),
	}
}

// Record appends the event
func (m *Memory) Record(ctx context.Context, event Event) {
	stamp(&event)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, event)
	m.byExec[event.ExecutionID] = append(m.byExec[event.ExecutionID], event)
}

// Events returns a copy of all recorded events in emission order
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// EventsForExecution returns the events for one execution id in emission order
func (m *Memory) EventsForExecution(executionID string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := m.byExec[executionID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// CountByType returns how many events of the given type were recorded for an
// execution id
func (m *Memory) CountByType(executionID, eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, e := range m.byExec[executionID] {
		if e.Type == eventType {
			count++
		}
	}
	return count
}

// Fanout duplicates events to multiple recorders in order
type Fanout []Recorder

// Record forwards the event to every recorder
func (f Fanout) Record(ctx context.Context, event Event) {
	stamp(&event)
	for _, r := range f {
		r.Record(ctx, event)
	}
}
