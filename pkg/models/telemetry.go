// Package models defines the wire and storage shapes shared across the
// telemetry pipeline and backend service.
package models

import "time"

// Span is a single OTLP span after parsing and anomaly scoring.
type Span struct {
	TraceID       string    `json:"trace_id"`
	SpanID        string    `json:"span_id"`
	ParentSpanID  string    `json:"parent_span_id,omitempty"`
	ServiceName   string    `json:"service_name"`
	SpanName      string    `json:"span_name"`
	Route         string    `json:"route"`
	DurationMs    float64   `json:"duration_ms"`
	StartTime     time.Time `json:"start_time"`
	StatusCode    int       `json:"status_code"`
	AnomalyScore  float64   `json:"anomaly_score"`
	IsAnomaly     bool      `json:"is_anomaly"`
}

// LogRecord is a single OTLP log record after parsing.
type LogRecord struct {
	TraceID     string    `json:"trace_id"`
	SpanID      string    `json:"span_id"`
	ServiceName string    `json:"service_name"`
	Body        string    `json:"body"`
	Severity    string    `json:"severity"`
	Timestamp   time.Time `json:"timestamp"`
}

// TraceSpan is the compact per-span projection carried inside a trace
// aggregate, an alert, or a trace-inventory record.
type TraceSpan struct {
	Name       string    `json:"name"`
	Service    string    `json:"service"`
	DurationMs float64   `json:"duration_ms"`
	StartTime  time.Time `json:"start_time"`
	TraceID    string    `json:"trace_id"`
	IsAnomaly  bool      `json:"is_anomaly"`
}

// TraceAggregate is the fold state the windowed trace reconstructor
// maintains for one (trace_id, window) key.
type TraceAggregate struct {
	DurationMs float64     `json:"duration_ms"`
	Spans      []TraceSpan `json:"spans"`
	HasAnomaly bool        `json:"has_anomaly"`
	StartTime  time.Time   `json:"start_time"`
}

// Fold appends one scored span into the aggregate.
func (a *TraceAggregate) Fold(s Span) {
	a.Spans = append(a.Spans, TraceSpan{
		Name:       firstNonEmpty(s.Route, s.SpanName),
		Service:    s.ServiceName,
		DurationMs: s.DurationMs,
		StartTime:  s.StartTime,
		TraceID:    s.TraceID,
		IsAnomaly:  s.IsAnomaly,
	})
	if s.DurationMs > a.DurationMs {
		a.DurationMs = s.DurationMs
	}
	if s.IsAnomaly {
		a.HasAnomaly = true
	}
	if a.StartTime.IsZero() || (!s.StartTime.IsZero() && s.StartTime.Before(a.StartTime)) {
		a.StartTime = s.StartTime
	}
}

// Merge combines two partial aggregates for the same key.
func Merge(a, b TraceAggregate) TraceAggregate {
	out := TraceAggregate{
		DurationMs: a.DurationMs,
		Spans:      append(append([]TraceSpan{}, a.Spans...), b.Spans...),
		HasAnomaly: a.HasAnomaly || b.HasAnomaly,
		StartTime:  a.StartTime,
	}
	if b.DurationMs > out.DurationMs {
		out.DurationMs = b.DurationMs
	}
	if out.StartTime.IsZero() || (!b.StartTime.IsZero() && b.StartTime.Before(out.StartTime)) {
		out.StartTime = b.StartTime
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return "unknown"
}

// Alert is a service-level anomaly event emitted on anomalous window close.
type Alert struct {
	ID           int64       `json:"id,omitempty"`
	Service      string      `json:"service"`
	Route        string      `json:"route"`
	AnomalyScore float64     `json:"anomaly_score"`
	IsAnomaly    bool        `json:"is_anomaly"`
	DurationMs   float64     `json:"duration_ms"`
	TraceID      string      `json:"trace_id"`
	Timestamp    time.Time   `json:"timestamp"`
	Spans        []TraceSpan `json:"spans,omitempty"`
}

// MetricType enumerates the metric kinds the pipeline emits.
type MetricType string

const (
	MetricThroughput     MetricType = "throughput"
	MetricP99Latency     MetricType = "p99_latency"
	MetricRedactionCount MetricType = "redaction_count"
)

// MetricSample is one per-service metric observation for a closed window.
type MetricSample struct {
	ID         int64      `json:"id,omitempty"`
	Service    string     `json:"service"`
	MetricType MetricType `json:"metric_type"`
	Value      float64    `json:"value"`
	Timestamp  time.Time  `json:"timestamp"`
}

// TraceRecord is the forensic trace-inventory record persisted only for
// windows that closed with has_anomaly = true.
type TraceRecord struct {
	TraceID        string      `json:"trace_id"`
	DurationMs     float64     `json:"duration_ms"`
	Spans          []TraceSpan `json:"spans"`
	IngestTime     time.Time   `json:"ingest_timestamp"`
}

// CorrelatedLog is a log record flushed from the log correlation buffer at
// an anomalous window close.
type CorrelatedLog struct {
	TraceID     string    `json:"trace_id"`
	SpanID      string    `json:"span_id"`
	ServiceName string    `json:"service_name"`
	Body        string    `json:"body"`
	Severity    string    `json:"severity"`
	Timestamp   time.Time `json:"timestamp"`
}

// RCAResult is the structured response from the RCA caller, degraded on
// any failure rather than propagated as an error.
type RCAResult struct {
	RootCause       string   `json:"root_cause"`
	SuggestedFixes  []string `json:"suggested_fixes"`
	RiskPrediction  string   `json:"risk_prediction"`
	Confidence      float64  `json:"confidence"`
}
