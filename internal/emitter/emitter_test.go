package emitter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/haasonsaas/telemetry-pipeline/pkg/models"
)

func TestEmitAlertPostsToAlertsEndpoint(t *testing.T) {
	received := make(chan models.Alert, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/alerts" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var a models.Alert
		json.NewDecoder(r.Body).Decode(&a)
		received <- a
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := New(srv.URL, nil)
	e.EmitAlert(context.Background(), models.Alert{Service: "quote", TraceID: "t1"})

	select {
	case a := <-received:
		if a.Service != "quote" {
			t.Errorf("service = %q, want quote", a.Service)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for emit")
	}
}

func TestEmitSurvivesServerErrorsWithoutPanicking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := New(srv.URL, nil)
	e.EmitMetric(context.Background(), models.MetricSample{Service: "quote"})
}

func TestBuildMetricsComputesThroughputAndAverage(t *testing.T) {
	spans := []models.TraceSpan{
		{Service: "quote", DurationMs: 100},
		{Service: "quote", DurationMs: 300},
		{Service: "cart", DurationMs: 50},
	}
	now := time.Now()
	samples := BuildMetrics("quote", spans, now)
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if samples[0].MetricType != models.MetricThroughput || samples[0].Value != 2 {
		t.Errorf("throughput sample = %+v", samples[0])
	}
	if samples[1].MetricType != models.MetricP99Latency || samples[1].Value != 200 {
		t.Errorf("latency sample = %+v", samples[1])
	}
}

func TestBuildAlertRequiresAnomalousSpan(t *testing.T) {
	spans := []models.TraceSpan{{Service: "quote", DurationMs: 100, IsAnomaly: false}}
	_, ok := BuildAlert("t1", "quote", spans, time.Now())
	if ok {
		t.Error("expected no alert when no constituent span is anomalous")
	}
}

func TestBuildAlertTruncatesSpansToTen(t *testing.T) {
	spans := make([]models.TraceSpan, 15)
	for i := range spans {
		spans[i] = models.TraceSpan{Service: "quote", Name: "route", DurationMs: 10, IsAnomaly: i == 0}
	}
	alert, ok := BuildAlert("t1", "quote", spans, time.Now())
	if !ok {
		t.Fatal("expected alert")
	}
	if len(alert.Spans) != 10 {
		t.Errorf("expected 10 spans in alert, got %d", len(alert.Spans))
	}
	if alert.AnomalyScore != 1.0 {
		t.Errorf("anomaly_score = %v, want 1.0", alert.AnomalyScore)
	}
}

func TestServicesInPreservesFirstSeenOrder(t *testing.T) {
	spans := []models.TraceSpan{
		{Service: "cart"}, {Service: "quote"}, {Service: "cart"},
	}
	got := ServicesIn(spans)
	if len(got) != 2 || got[0] != "cart" || got[1] != "quote" {
		t.Errorf("got %v, want [cart quote]", got)
	}
}
