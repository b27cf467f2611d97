package pipeline

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/telemetry-pipeline/internal/otlp"
	"github.com/haasonsaas/telemetry-pipeline/internal/window"
	"github.com/haasonsaas/telemetry-pipeline/pkg/models"
)

type fakeEmitter struct {
	mu      sync.Mutex
	alerts  []models.Alert
	metrics []models.MetricSample
	traces  []models.TraceRecord
	logs    []models.CorrelatedLog
}

func (f *fakeEmitter) EmitTrace(ctx context.Context, rec models.TraceRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.traces = append(f.traces, rec)
}

func (f *fakeEmitter) EmitMetric(ctx context.Context, sample models.MetricSample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics = append(f.metrics, sample)
}

func (f *fakeEmitter) EmitAlert(ctx context.Context, alert models.Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
}

func (f *fakeEmitter) EmitLog(ctx context.Context, log models.CorrelatedLog) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, log)
}

// epochNano is 2023-01-01T00:00:00Z in unix nanoseconds, matching the
// window reconstructor's alignment origin.
const epochNano = int64(1672531200) * 1e9

func spanPayload(traceID string, startNano, endNano int64) otlp.Payload {
	return otlp.Payload{
		"resourceSpans": []any{
			map[string]any{
				"resource": map[string]any{
					"attributes": []any{
						map[string]any{"key": "service.name", "value": map[string]any{"stringValue": "quote"}},
					},
				},
				"scopeSpans": []any{
					map[string]any{
						"spans": []any{
							map[string]any{
								"traceId":           traceID,
								"name":              "GET /quote",
								"startTimeUnixNano": strconv.FormatInt(startNano, 10),
								"endTimeUnixNano":   strconv.FormatInt(endNano, 10),
							},
						},
					},
				},
			},
		},
	}
}

func TestIngestSpansAndWindowCloseEmitsAlertAndTrace(t *testing.T) {
	em := &fakeEmitter{}
	p := New(nil, em, nil)

	recon := window.New(p.onWindowClose)
	start := epochNano + int64(time.Second)
	p.ingestSpans(recon, spanPayload("t1", start, start+int64(2000*time.Millisecond)))

	recon.Tick(time.Unix(0, start).Add(window.Length + time.Second))

	em.mu.Lock()
	defer em.mu.Unlock()
	if len(em.traces) != 1 {
		t.Fatalf("expected 1 trace emitted for anomalous window, got %d", len(em.traces))
	}
	if len(em.alerts) != 1 {
		t.Fatalf("expected 1 alert emitted, got %d", len(em.alerts))
	}
	if len(em.metrics) != 2 {
		t.Fatalf("expected throughput + latency metrics, got %d", len(em.metrics))
	}
}

func TestIngestSpansCleanWindowEmitsNoTraceOrAlert(t *testing.T) {
	em := &fakeEmitter{}
	p := New(nil, em, nil)

	recon := window.New(p.onWindowClose)
	start := epochNano + int64(time.Second)
	p.ingestSpans(recon, spanPayload("t2", start, start+int64(50*time.Millisecond)))

	recon.Tick(time.Unix(0, start).Add(window.Length + time.Second))

	em.mu.Lock()
	defer em.mu.Unlock()
	if len(em.traces) != 0 {
		t.Errorf("expected no trace for clean window, got %d", len(em.traces))
	}
	if len(em.alerts) != 0 {
		t.Errorf("expected no alert for clean window, got %d", len(em.alerts))
	}
	if len(em.metrics) != 2 {
		t.Errorf("expected metrics still emitted for clean window, got %d", len(em.metrics))
	}
}

func TestIngestLogsFlushesOnAnomalousWindowClose(t *testing.T) {
	em := &fakeEmitter{}
	p := New(nil, em, nil)

	recon := window.New(p.onWindowClose)
	start := epochNano + int64(time.Second)
	p.ingestSpans(recon, spanPayload("t3", start, start+int64(2000*time.Millisecond)))
	p.ingestLogs(otlp.Payload{
		"resourceLogs": []any{
			map[string]any{
				"scopeLogs": []any{
					map[string]any{
						"logRecords": []any{
							map[string]any{"traceId": "t3", "body": map[string]any{"stringValue": "hello"}},
						},
					},
				},
			},
		},
	})

	recon.Tick(time.Unix(0, start).Add(window.Length + time.Second))

	em.mu.Lock()
	defer em.mu.Unlock()
	if len(em.logs) != 1 {
		t.Fatalf("expected 1 correlated log flushed, got %d", len(em.logs))
	}
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	src := constSource{}
	em := &fakeEmitter{}
	p := New(src, em, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	if err == nil {
		t.Error("expected Run to return an error when context is cancelled")
	}
}

type constSource struct{}

func (constSource) Next(ctx context.Context) ([]otlp.Payload, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Millisecond):
		return nil, nil
	}
}
