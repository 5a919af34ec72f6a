package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus registry for the HTTP layer, the ledger and
// background jobs. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	salesTotal      *prometheus.CounterVec
	reversalsTotal  *prometheus.CounterVec
	adjustments     prometheus.Counter
	conflictsTotal  *prometheus.CounterVec
	jobsTotal       *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockbook_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockbook_http_request_duration_seconds",
		Help:    "HTTP request latency per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	sales := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockbook_sales_total",
		Help: "Sale requests by outcome.",
	}, []string{"outcome"})
	reversals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockbook_sale_reversals_total",
		Help: "Sale reversals by outcome.",
	}, []string{"outcome"})
	adjustments := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockbook_quantity_adjustments_total",
		Help: "Applied quantity adjustments.",
	})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockbook_ledger_conflicts_total",
		Help: "Optimistic concurrency conflicts by operation.",
	}, []string{"operation"})
	jobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockbook_jobs_total",
		Help: "Background jobs by task type and status.",
	}, []string{"task", "status"})
	registry.MustRegister(requests, duration, sales, reversals, adjustments, conflicts, jobs)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		salesTotal:      sales,
		reversalsTotal:  reversals,
		adjustments:     adjustments,
		conflictsTotal:  conflicts,
		jobsTotal:       jobs,
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// SaleRecorded counts a sale; duplicate is true for idempotent replays.
func (m *Metrics) SaleRecorded(duplicate bool) {
	if m == nil {
		return
	}
	outcome := "recorded"
	if duplicate {
		outcome = "duplicate"
	}
	m.salesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SaleReversed(orphan bool) {
	if m == nil {
		return
	}
	outcome := "restored"
	if orphan {
		outcome = "orphan"
	}
	m.reversalsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) QuantityAdjusted() {
	if m == nil {
		return
	}
	m.adjustments.Inc()
}

func (m *Metrics) Conflict(operation string) {
	if m == nil {
		return
	}
	m.conflictsTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) JobProcessed(task string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.jobsTotal.WithLabelValues(task, status).Inc()
}

// Registerer exposes the registry for extra collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
