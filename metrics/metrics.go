// Package metrics holds the Prometheus collectors of the HR ledger. A nil
// *Metrics is valid and records nothing, so engines can be built without it.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	rejections       *prometheus.CounterVec
	balanceOps       *prometheus.CounterVec
	monetizations    prometheus.Counter
	accrualRuns      *prometheus.CounterVec
	accrualRunLength prometheus.Histogram
}

// New registers every collector on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "request_transitions_total",
		Help: "Committed request state transitions",
	}, []string{"module", "to"})

	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "request_rejections_total",
		Help: "Rejected lifecycle operations by error kind",
	}, []string{"module", "kind"})

	balanceOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leave_balance_operations_total",
		Help: "Committed balance operations",
	}, []string{"op"})

	monetizations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leave_monetizations_total",
		Help: "Monetization records written",
	})

	accrualRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accrual_scheduler_runs_total",
		Help: "Accrual scheduler passes by outcome",
	}, []string{"outcome"})

	accrualRunLength := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "accrual_scheduler_run_seconds",
		Help:    "Duration of one accrual scheduler pass",
		Buckets: prometheus.DefBuckets,
	})

	registry.MustRegister(requestDuration, requestTotal, transitions, rejections, balanceOps, monetizations, accrualRuns, accrualRunLength)

	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		transitions:      transitions,
		rejections:       rejections,
		balanceOps:       balanceOps,
		monetizations:    monetizations,
		accrualRuns:      accrualRuns,
		accrualRunLength: accrualRunLength,
	}
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

func (m *Metrics) Transition(module, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(module, to).Inc()
}

func (m *Metrics) Rejection(module, kind string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(module, kind).Inc()
}

func (m *Metrics) BalanceOp(op string) {
	if m == nil {
		return
	}
	m.balanceOps.WithLabelValues(op).Inc()
}

func (m *Metrics) Monetization() {
	if m == nil {
		return
	}
	m.monetizations.Inc()
}

func (m *Metrics) AccrualRun(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.accrualRuns.WithLabelValues(outcome).Inc()
	m.accrualRunLength.Observe(duration.Seconds())
}
