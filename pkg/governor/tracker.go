package governor

import (
	"sync"
	"time"
)

// ExecState is the lifecycle state of one execution
type ExecState string

const (
	StatePending   ExecState = "pending"
	StateCompleted ExecState = "completed"
	StateFailed    ExecState = "failed"
)

// Record is the tracked state of one execution. Status transitions are
// monotonic: pending happens exactly once, followed by exactly one of
// completed or failed.
type Record struct {
	ID        string    `json:"id"`
	Status    ExecState `json:"status"`
	StartTime time.Time `json:"start_time"`
	Error     string    `json:"error,omitempty"`
}

// Tracker is a concurrently-safe map from execution id to lifecycle state.
// It exists for observability and testing and never gates control flow.
// History is bounded: the oldest records are evicted beyond maxHistory.
type Tracker struct {
	mu         sync.RWMutex
	records    map[string]*Record
	order      []string
	maxHistory int
}

// NewTracker creates a tracker retaining at most maxHistory records
func NewTracker(maxHistory int) *Tracker {
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	return &Tracker{
		records:    make(map[string]*Record),
		maxHistory: maxHistory,
	}
}

// SetState records a state transition for the execution id. Backward
// transitions are ignored: once a record is terminal it no longer changes.
func (t *Tracker) SetState(id string, status ExecState, errDetail string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, exists := t.records[id]
	if !exists {
		record = &Record{
			ID:        id,
			Status:    status,
			StartTime: time.Now(),
			Error:     errDetail,
		}
		t.records[id] = record
		t.order = append(t.order, id)
		t.evictLocked()
		return
	}

	if record.Status != StatePending {
		return
	}

	record.Status = status
	record.Error = errDetail
}

// GetState returns the current state for an execution id
func (t *Tracker) GetState(id string) (ExecState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	record, exists := t.records[id]
	if !exists {
		return "", false
	}
	return record.Status, true
}

// Get returns a copy of the tracked record for an execution id
func (t *Tracker) Get(id string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	record, exists := t.records[id]
	if !exists {
		return Record{}, false
	}
	return *record, true
}

// History returns copies of all retained records, oldest first
func (t *Tracker) History() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Record, 0, len(t.order))
	for _, id := range t.order {
		if record, exists := t.records[id]; exists {
			out = append(out, *record)
		}
	}
	return out
}

// Len returns the number of retained records
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// evictLocked drops the oldest records beyond the history bound. Callers
// must hold the write lock.
func (t *Tracker) evictLocked() {
	for len(t.order) > t.maxHistory {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.records, oldest)
	}
}
