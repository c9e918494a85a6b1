package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCountersAreExposed(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Settlement("cash", "placed")
	m.Settlement("cash", "placed")
	m.Transition("completed", "rejected")
	m.ObserveRequest("/api/v1/menu", http.StatusOK, 12*time.Millisecond)
	m.ObserveBackend("/items", http.StatusOK, 30*time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `pos_terminal_settlements_total{method="cash",outcome="placed"} 2`)
	assert.Contains(t, body, `pos_terminal_order_transitions_total{outcome="rejected",target="completed"} 1`)
	assert.Contains(t, body, `pos_terminal_http_requests_total{handler="/api/v1/menu",status="200"} 1`)
	assert.Contains(t, body, `pos_backend_request_duration_ms_count{endpoint="/items",status="200"} 1`)
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
