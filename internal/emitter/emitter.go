// Package emitter posts derived pipeline events to the backend over HTTP,
// using a short-lived client, a hard per-call timeout, and log-and-drop
// failure handling so the pipeline never blocks on the backend.
package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/telemetry-pipeline/internal/observability"
	"github.com/haasonsaas/telemetry-pipeline/pkg/models"
)

// Timeout bounds every emit call in total.
const Timeout = 1 * time.Second

// Option configures optional Emitter dependencies.
type Option func(*Emitter)

// WithMetrics records emit outcomes and latency against m.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Emitter) { e.metrics = m }
}

// WithTracer wraps each emit call in a client span.
func WithTracer(t *observability.Tracer) Option {
	return func(e *Emitter) { e.tracer = t }
}

// Emitter posts derived events to the backend's HTTP API.
type Emitter struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// New creates an Emitter targeting baseURL (e.g. "http://localhost:8000").
func New(baseURL string, logger *slog.Logger, opts ...Option) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Emitter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: Timeout},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EmitTrace posts a forensic trace-inventory record. Callers should only
// call this for windows whose aggregate has_anomaly is true.
func (e *Emitter) EmitTrace(ctx context.Context, rec models.TraceRecord) {
	e.post(ctx, "/api/traces", rec)
}

// EmitMetric posts a single per-service metric sample.
func (e *Emitter) EmitMetric(ctx context.Context, sample models.MetricSample) {
	e.post(ctx, "/api/metrics", sample)
}

// EmitAlert posts a service-level alert. Callers should only call this for
// services with at least one anomalous constituent span.
func (e *Emitter) EmitAlert(ctx context.Context, alert models.Alert) {
	e.post(ctx, "/api/alerts", alert)
}

// EmitLog posts a single correlated log flushed from an anomalous window
// close.
func (e *Emitter) EmitLog(ctx context.Context, log models.CorrelatedLog) {
	e.post(ctx, "/api/logs", log)
}

func (e *Emitter) post(ctx context.Context, path string, body any) {
	target := strings.TrimPrefix(path, "/api/")
	start := time.Now()
	if e.tracer != nil {
		spanCtx, span := e.tracer.TraceEmit(ctx, target)
		defer span.End()
		ctx = spanCtx
	}

	err := e.doPost(ctx, path, body)
	if e.metrics != nil {
		e.metrics.RecordEmit(target, serviceOf(body), time.Since(start).Seconds(), err)
	}
}

func (e *Emitter) doPost(ctx context.Context, path string, body any) error {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	buf, err := json.Marshal(body)
	if err != nil {
		e.logger.Error("emitter: marshal failed", "path", path, "error", err)
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		e.logger.Error("emitter: request build failed", "path", path, "error", err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Error("emitter: post failed", "path", path, "error", err)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		e.logger.Error("emitter: backend rejected event", "path", path, "status", resp.StatusCode)
		return fmt.Errorf("backend rejected event: status %d", resp.StatusCode)
	}
	return nil
}

// serviceOf extracts the originating service name from an emitted payload,
// for metric labeling. Trace records carry no service of their own.
func serviceOf(body any) string {
	switch v := body.(type) {
	case models.Alert:
		return v.Service
	case models.MetricSample:
		return v.Service
	case models.CorrelatedLog:
		return v.ServiceName
	default:
		return ""
	}
}

// BuildMetrics derives the per-service throughput and p99_latency samples
// for a closed window's trace aggregate: throughput is the span count for
// the service, latency is the service average duration.
func BuildMetrics(svc string, spans []models.TraceSpan, now time.Time) []models.MetricSample {
	var svcSpans []models.TraceSpan
	for _, s := range spans {
		if s.Service == svc {
			svcSpans = append(svcSpans, s)
		}
	}
	if len(svcSpans) == 0 {
		return nil
	}
	var total float64
	for _, s := range svcSpans {
		total += s.DurationMs
	}
	avg := total / float64(len(svcSpans))

	return []models.MetricSample{
		{Service: svc, MetricType: models.MetricThroughput, Value: float64(len(svcSpans)), Timestamp: now},
		{Service: svc, MetricType: models.MetricP99Latency, Value: avg, Timestamp: now},
	}
}

// BuildAlert derives the alert payload for a service with at least one
// anomalous constituent span. route is the first constituent span's name,
// duration_ms is the service average, spans is truncated to the first ten,
// and anomaly_score is hard-coded to 1.0 (see DESIGN.md for why the max
// constituent score is discarded here).
func BuildAlert(traceID, svc string, spans []models.TraceSpan, now time.Time) (models.Alert, bool) {
	var svcSpans []models.TraceSpan
	for _, s := range spans {
		if s.Service == svc {
			svcSpans = append(svcSpans, s)
		}
	}
	if len(svcSpans) == 0 {
		return models.Alert{}, false
	}
	anyAnomalous := false
	var total float64
	for _, s := range svcSpans {
		total += s.DurationMs
		if s.IsAnomaly {
			anyAnomalous = true
		}
	}
	if !anyAnomalous {
		return models.Alert{}, false
	}
	truncated := svcSpans
	if len(truncated) > 10 {
		truncated = truncated[:10]
	}
	return models.Alert{
		Service:      svc,
		Route:        svcSpans[0].Name,
		AnomalyScore: 1.0,
		IsAnomaly:    true,
		DurationMs:   total / float64(len(svcSpans)),
		TraceID:      traceID,
		Timestamp:    now,
		Spans:        truncated,
	}, true
}

// ServicesIn returns the distinct set of services represented in spans,
// in first-seen order for deterministic downstream testing.
func ServicesIn(spans []models.TraceSpan) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range spans {
		if !seen[s.Service] {
			seen[s.Service] = true
			out = append(out, s.Service)
		}
	}
	return out
}
