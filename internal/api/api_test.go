package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/haasonsaas/telemetry-pipeline/internal/storage"
	"github.com/haasonsaas/telemetry-pipeline/pkg/models"
)

type fakeBroadcaster struct {
	alerts  []models.Alert
	metrics []models.MetricSample
}

func (f *fakeBroadcaster) BroadcastAlert(a models.Alert) { f.alerts = append(f.alerts, a) }

func (f *fakeBroadcaster) BroadcastMetric(m models.MetricSample) {
	f.metrics = append(f.metrics, m)
}

type fakeRCA struct {
	result models.RCAResult
}

func (f *fakeRCA) Analyze(ctx context.Context, traceID string, trace models.TraceRecord) models.RCAResult {
	return f.result
}

func newTestHandler() (*Handler, storage.StoreSet, *fakeBroadcaster) {
	stores := storage.NewMemoryStores()
	bc := &fakeBroadcaster{}
	h := NewHandler(&Config{
		Alerts:  stores.Alerts,
		Metrics: stores.Metrics,
		Traces:  stores.Traces,
		Hub:     bc,
	})
	return h, stores, bc
}

func doJSON(h *Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateAlertPersistsAndBroadcasts(t *testing.T) {
	h, _, bc := newTestHandler()
	rec := doJSON(h, http.MethodPost, "/api/alerts", models.Alert{Service: "quote", TraceID: "t1"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(bc.alerts) != 1 {
		t.Fatalf("expected 1 broadcast alert, got %d", len(bc.alerts))
	}

	listRec := doJSON(h, http.MethodGet, "/api/alerts?service=quote", nil)
	var alerts []models.Alert
	_ = json.NewDecoder(listRec.Body).Decode(&alerts)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 stored alert, got %d", len(alerts))
	}
}

func TestCreateMetricPersistsAndBroadcasts(t *testing.T) {
	h, _, bc := newTestHandler()
	rec := doJSON(h, http.MethodPost, "/api/metrics", models.MetricSample{
		Service: "quote", MetricType: models.MetricThroughput, Value: 3, Timestamp: time.Now(),
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(bc.metrics) != 1 {
		t.Fatalf("expected 1 broadcast metric, got %d", len(bc.metrics))
	}

	listRec := doJSON(h, http.MethodGet, "/api/metrics/quote/throughput", nil)
	var samples []models.MetricSample
	_ = json.NewDecoder(listRec.Body).Decode(&samples)
	if len(samples) != 1 {
		t.Fatalf("expected 1 stored metric, got %d", len(samples))
	}
}

func TestGetTraceReturns404WhenMissing(t *testing.T) {
	h, _, _ := newTestHandler()
	rec := doJSON(h, http.MethodGet, "/api/traces/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCreateTraceThenGetRoundTrips(t *testing.T) {
	h, _, _ := newTestHandler()
	createRec := doJSON(h, http.MethodPost, "/api/traces", models.TraceRecord{TraceID: "t1", DurationMs: 900})
	if createRec.Code != http.StatusAccepted {
		t.Fatalf("create status = %d, want 202", createRec.Code)
	}
	getRec := doJSON(h, http.MethodGet, "/api/traces/t1", nil)
	var rec models.TraceRecord
	_ = json.NewDecoder(getRec.Body).Decode(&rec)
	if rec.DurationMs != 900 {
		t.Errorf("duration_ms = %v, want 900", rec.DurationMs)
	}
}

func TestRCAReturns503WhenNotConfigured(t *testing.T) {
	h, _, _ := newTestHandler()
	rec := doJSON(h, http.MethodPost, "/api/rca/t1", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRCAReturns404WhenTraceMissing(t *testing.T) {
	stores := storage.NewMemoryStores()
	h := NewHandler(&Config{Traces: stores.Traces, RCA: &fakeRCA{}})
	rec := doJSON(h, http.MethodPost, "/api/rca/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestRCAReturnsAnalysisResult(t *testing.T) {
	stores := storage.NewMemoryStores()
	_ = stores.Traces.Upsert(context.Background(), &models.TraceRecord{TraceID: "t1", DurationMs: 900})
	h := NewHandler(&Config{
		Traces: stores.Traces,
		RCA:    &fakeRCA{result: models.RCAResult{RootCause: "slow downstream call", Confidence: 0.8}},
	})
	rec := doJSON(h, http.MethodPost, "/api/rca/t1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var result models.RCAResult
	_ = json.NewDecoder(rec.Body).Decode(&result)
	if result.RootCause != "slow downstream call" {
		t.Errorf("root_cause = %q", result.RootCause)
	}
}

func TestIngestLogAlwaysAccepted(t *testing.T) {
	h, _, _ := newTestHandler()
	rec := doJSON(h, http.MethodPost, "/api/logs", models.CorrelatedLog{TraceID: "t1", Body: "hello"})
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
}
