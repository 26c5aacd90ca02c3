package audit

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	t.Run("should preserve emission order per execution", func(t *testing.T) {
		m := NewMemory()
		ctx := context.Background()

		m.Record(ctx, Event{ExecutionID: "exec-1", Type: EventStarted})
		m.Record(ctx, Event{ExecutionID: "exec-2", Type: EventStarted})
		m.Record(ctx, Event{ExecutionID: "exec-1", Type: EventRetryAttempted})
		m.Record(ctx, Event{ExecutionID: "exec-1", Type: EventCompleted})

		events := m.EventsForExecution("exec-1")
		require.Len(t, events, 3)
		assert.Equal(t, EventStarted, events[0].Type)
		assert.Equal(t, EventRetryAttempted, events[1].Type)
		assert.Equal(t, EventCompleted, events[2].Type)
	})

	t.Run("should stamp id and timestamp", func(t *testing.T) {
		m := NewMemory()
		m.Record(context.Background(), Event{ExecutionID: "exec-1", Type: EventStarted})

		events := m.Events()
		require.Len(t, events, 1)
		assert.NotEmpty(t, events[0].ID)
		assert.False(t, events[0].Timestamp.IsZero())
	})

	t.Run("should count events by type", func(t *testing.T) {
		m := NewMemory()
		ctx := context.Background()
		m.Record(ctx, Event{ExecutionID: "exec-1", Type: EventRetryAttempted})
		m.Record(ctx, Event{ExecutionID: "exec-1", Type: EventRetryAttempted})
		m.Record(ctx, Event{ExecutionID: "exec-1", Type: EventFailed})

		assert.Equal(t, 2, m.CountByType("exec-1", EventRetryAttempted))
		assert.Equal(t, 0, m.CountByType("exec-2", EventRetryAttempted))
	})

	t.Run("should be safe under concurrent recorders", func(t *testing.T) {
		m := NewMemory()
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				id := fmt.Sprintf("exec-%d", n)
				for j := 0; j < 20; j++ {
					m.Record(ctx, Event{ExecutionID: id, Type: EventRetryAttempted})
				}
			}(i)
		}
		wg.Wait()

		assert.Len(t, m.Events(), 200)
		for i := 0; i < 10; i++ {
			assert.Equal(t, 20, m.CountByType(fmt.Sprintf("exec-%d", i), EventRetryAttempted))
		}
	})
}

func TestLogger(t *testing.T) {
	t.Run("should emit structured entries", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(zerolog.New(&buf))

		l.Record(context.Background(), Event{
			ExecutionID: "exec-1",
			Type:        EventStarted,
			Details:     map[string]interface{}{"resource": "claude-sonnet"},
		})

		out := buf.String()
		assert.Contains(t, out, "exec-1")
		assert.Contains(t, out, EventStarted)
		assert.Contains(t, out, "claude-sonnet")
	})
}

func TestFanout(t *testing.T) {
	t.Run("should forward to all recorders", func(t *testing.T) {
		a := NewMemory()
		b := NewMemory()
		f := Fanout{a, b}

		f.Record(context.Background(), Event{ExecutionID: "exec-1", Type: EventCompleted})

		assert.Len(t, a.Events(), 1)
		assert.Len(t, b.Events(), 1)
		// Both copies carry the same stamped id
		assert.Equal(t, a.Events()[0].ID, b.Events()[0].ID)
	})
}

func TestStore(t *testing.T) {
	newStore := func(t *testing.T) (*Store, func()) {
		tmpDir, err := os.MkdirTemp("", "audit-test-*")
		require.NoError(t, err)

		store, err := NewStore(filepath.Join(tmpDir, "audit.db"), zerolog.Nop())
		require.NoError(t, err)

		return store, func() {
			store.Close()
			os.RemoveAll(tmpDir)
		}
	}

	t.Run("should persist and query events in order", func(t *testing.T) {
		store, cleanup := newStore(t)
		defer cleanup()
		ctx := context.Background()

		store.Record(ctx, Event{ExecutionID: "exec-1", Type: EventStarted})
		store.Record(ctx, Event{ExecutionID: "exec-1", Type: EventRetryAttempted, Details: map[string]interface{}{"attempt": float64(1)}})
		store.Record(ctx, Event{ExecutionID: "exec-2", Type: EventStarted})
		store.Record(ctx, Event{ExecutionID: "exec-1", Type: EventFailed})

		events, err := store.EventsForExecution(ctx, "exec-1")
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, EventStarted, events[0].Type)
		assert.Equal(t, EventRetryAttempted, events[1].Type)
		assert.Equal(t, EventFailed, events[2].Type)
		assert.Equal(t, float64(1), events[1].Details["attempt"])
	})

	t.Run("should persist events from a canceled context", func(t *testing.T) {
		store, cleanup := newStore(t)
		defer cleanup()

		// Terminal failed events arrive after the execution context was
		// canceled; the trail must still get them
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		store.Record(ctx, Event{ExecutionID: "exec-1", Type: EventFailed, Details: map[string]interface{}{"kind": "interrupted"}})

		events, err := store.EventsForExecution(context.Background(), "exec-1")
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, EventFailed, events[0].Type)
		assert.Equal(t, "interrupted", events[0].Details["kind"])
	})

	t.Run("should prune old events", func(t *testing.T) {
		store, cleanup := newStore(t)
		defer cleanup()
		ctx := context.Background()

		store.Record(ctx, Event{ExecutionID: "exec-1", Type: EventStarted})

		// Everything recorded so far is older than a far-future cutoff
		removed, err := store.Prune(ctx, 1<<62)
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		events, err := store.EventsForExecution(ctx, "exec-1")
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("should require a database path", func(t *testing.T) {
		_, err := NewStore("", zerolog.Nop())
		assert.Error(t, err)
	})
}
