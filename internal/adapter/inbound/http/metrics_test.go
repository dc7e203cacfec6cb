package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/mcpgate/mcpgate/internal/adapter/outbound/memory"
)

// findMetric returns the gathered metric family with the given name.
func findMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

// TestMetricsMiddleware verifies request counts and status labels.
func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, memory.NewSessionRegistry())

	handler := MetricsMiddleware(metrics, []string{"/metrics"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/bad" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))

	for _, path := range []string{"/mcp", "/mcp", "/bad", "/metrics"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	mf := findMetric(t, reg, "mcpgate_requests_total")
	if mf == nil {
		t.Fatal("mcpgate_requests_total not gathered")
	}
	counts := map[string]float64{}
	for _, m := range mf.GetMetric() {
		var status string
		for _, l := range m.GetLabel() {
			if l.GetName() == "status" {
				status = l.GetValue()
			}
		}
		counts[status] = m.GetCounter().GetValue()
	}
	// /metrics is skipped, so 2 ok + 1 error.
	if counts["ok"] != 2 {
		t.Errorf("ok count = %v, want 2", counts["ok"])
	}
	if counts["error"] != 1 {
		t.Errorf("error count = %v, want 1", counts["error"])
	}
}

// TestActiveSessionsGauge verifies the gauge tracks the registry on scrape.
func TestActiveSessionsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	registry := memory.NewSessionRegistry()
	NewMetrics(reg, registry)

	registry.GetOrCreate("")
	registry.GetOrCreate("")

	mf := findMetric(t, reg, "mcpgate_active_sessions")
	if mf == nil {
		t.Fatal("mcpgate_active_sessions not gathered")
	}
	if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 2 {
		t.Errorf("active sessions = %v, want 2", got)
	}
}

// TestStatusToLabel verifies the ok/error bucketing.
func TestStatusToLabel(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "ok"},
		{204, "ok"},
		{304, "ok"},
		{400, "error"},
		{404, "error"},
		{504, "error"},
	}
	for _, tt := range tests {
		if got := statusToLabel(tt.code); got != tt.want {
			t.Errorf("statusToLabel(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

// TestStatusRecorder_Flush verifies the recorder passes Flush through so
// SSE keeps working behind the middleware.
func TestStatusRecorder_Flush(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapped := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}

	var _ http.Flusher = wrapped
	wrapped.Flush()
	if !rec.Flushed {
		t.Error("Flush not delegated to the underlying writer")
	}
}
