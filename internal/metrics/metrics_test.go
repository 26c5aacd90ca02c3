package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("should register all metrics without panic", func(t *testing.T) {
		m := New()
		assert.NotNil(t, m.Registry())
	})

	t.Run("should expose metrics over HTTP", func(t *testing.T) {
		m := New()
		m.ExecutionsTotal.WithLabelValues("completed").Inc()
		m.ToolCallsTotal.WithLabelValues("read_file", "success").Inc()

		req := httptest.NewRequest("GET", "/metrics", nil)
		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, req)

		require.Equal(t, 200, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "governed_executions_total")
		assert.Contains(t, body, "tool_calls_total")
	})

	t.Run("should track breaker gauge", func(t *testing.T) {
		m := New()
		m.BreakerOpenResources.Inc()
		m.BreakerOpenResources.Dec()
	})
}
