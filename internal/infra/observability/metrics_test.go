package observability_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/boddenberg/finance-tracker-api/internal/infra/observability"
)

func TestNewMetrics_Twice(t *testing.T) {
	// private registries must not collide
	observability.NewMetrics()
	observability.NewMetrics()
}

func TestGetSeriesSnapshot(t *testing.T) {
	m := observability.NewMetrics()
	m.RecordMaterialized(3, 1, 2)
	m.AddSettled(4)
	m.IncrCacheHit("reference")
	m.IncrCacheMiss("reference")
	m.BreakerStateChanged("store", gobreaker.StateClosed, gobreaker.StateOpen)

	snap := m.GetSeriesSnapshot()
	if snap.PersistedRows != 3 || snap.VirtualRows != 1 {
		t.Errorf("unexpected rows %+v", snap)
	}
	if snap.VirtualRatio != 0.25 {
		t.Errorf("expected ratio 0.25, got %v", snap.VirtualRatio)
	}
	if snap.IntegrityWarnings != 2 || snap.SettledOccurrences != 4 {
		t.Errorf("unexpected counters %+v", snap)
	}
	if snap.CacheHitRate != 0.5 {
		t.Errorf("expected hit rate 0.5, got %v", snap.CacheHitRate)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "finance_circuit_breaker_state" {
			found = f.GetMetric()[0].GetGauge().GetValue() == 2
		}
	}
	if !found {
		t.Error("expected breaker gauge at open")
	}
}

func TestInitTracer_NoEndpoint(t *testing.T) {
	shutdown, err := observability.InitTracer(context.Background(), "", "finance-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestZapLoggerMiddleware_PassesThrough(t *testing.T) {
	h := observability.ZapLoggerMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("expected 418, got %d", rec.Code)
	}
}
