package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.Transition("leave", "approved")
		m.Rejection("leave", "conflict")
		m.BalanceOp("consume")
		m.Monetization()
		m.AccrualRun("ok", time.Second)
		m.ObserveHTTPRequest("GET", "/health", 200, time.Millisecond)
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.Transition("leave", "approved")
	m.Transition("leave", "approved")
	m.Rejection("pass_slip", "authorization")
	m.Monetization()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("leave", "approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues("pass_slip", "authorization")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.monetizations))
}

func TestMetrics_HandlerServesRegistry(t *testing.T) {
	m := New()
	m.BalanceOp("accrue")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `leave_balance_operations_total{op="accrue"} 1`)
}
