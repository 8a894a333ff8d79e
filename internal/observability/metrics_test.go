package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.Jobs().Track("ledger:reconcile").End(nil)

	body := scrape(t, metrics)
	if !strings.Contains(body, "pantry_jobs_total") {
		t.Fatalf("expected body to contain pantry_jobs_total, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	metricsBody := scrape(t, metrics)
	if !strings.Contains(metricsBody, "pantry_http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "pantry_http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
}

func TestLedgerMetricsRecordOutcomes(t *testing.T) {
	metrics := NewMetrics()
	ledger := metrics.Ledger()
	ledger.AdjustmentApplied("applied")
	ledger.AdjustmentApplied("applied")
	ledger.AdjustmentApplied("rejected")
	ledger.PartialFailure("adjust")
	ledger.CascadeRetry("deferred")
	ledger.LedgerDrift(-3)

	body := scrape(t, metrics)
	for _, want := range []string{
		`pantry_adjustments_total{outcome="applied"} 2`,
		`pantry_adjustments_total{outcome="rejected"} 1`,
		`pantry_ledger_partial_failures_total{operation="adjust"} 1`,
		`pantry_ledger_cascade_retries_total{outcome="deferred"} 1`,
		`pantry_ledger_drift_abs_sum 3`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics, got: %s", want, body)
		}
	}
}

func TestNilLedgerMetricsIsSafe(t *testing.T) {
	var ledger *LedgerMetrics
	ledger.AdjustmentApplied("applied")
	ledger.PartialFailure("create")
	ledger.CascadeRetry("completed")
	ledger.LedgerDrift(1)
}
