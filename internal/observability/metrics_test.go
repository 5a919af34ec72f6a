package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/api/v1/sales")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sales", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, rr.Code)
	}

	body := scrape(t, metrics)
	if !strings.Contains(body, `stockbook_http_requests_total{code="409",route="/api/v1/sales"} 1`) {
		t.Fatalf("expected request counter, got: %s", body)
	}
	if !strings.Contains(body, `stockbook_http_request_duration_seconds_bucket{route="/api/v1/sales"`) {
		t.Fatalf("expected duration histogram, got: %s", body)
	}
}

func TestLedgerCounters(t *testing.T) {
	metrics := NewMetrics()
	metrics.SaleRecorded(false)
	metrics.SaleRecorded(true)
	metrics.SaleReversed(true)
	metrics.QuantityAdjusted()
	metrics.Conflict("record_sale")
	metrics.JobProcessed("ledger:reconcile", errors.New("boom"))

	body := scrape(t, metrics)
	for _, want := range []string{
		`stockbook_sales_total{outcome="recorded"} 1`,
		`stockbook_sales_total{outcome="duplicate"} 1`,
		`stockbook_sale_reversals_total{outcome="orphan"} 1`,
		`stockbook_quantity_adjustments_total 1`,
		`stockbook_ledger_conflicts_total{operation="record_sale"} 1`,
		`stockbook_jobs_total{status="error",task="ledger:reconcile"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in: %s", want, body)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var metrics *Metrics
	metrics.SaleRecorded(false)
	metrics.SaleReversed(false)
	metrics.QuantityAdjusted()
	metrics.Conflict("x")
	metrics.JobProcessed("x", nil)

	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	if metrics.Middleware(next) == nil {
		t.Fatalf("expected passthrough handler")
	}
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from nil metrics, got %d", rr.Code)
	}
}
