package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting pipeline metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Span and log ingestion volume from the broker
//   - Window lifecycle (opened, closed, evicted) and window size
//   - Anomaly scoring outcomes and latency
//   - Alert emission to the backend and emission failures
//   - HTTP API and database latency on the backend
//   - WebSocket broadcast fan-out to dashboard subscribers
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.SpanIngested("checkout")
//	defer metrics.ScoringDuration("checkout").Observe(time.Since(start).Seconds())
type Metrics struct {
	// SpanCounter tracks spans received from the broker by service.
	SpanCounter *prometheus.CounterVec

	// LogCounter tracks log records received from the broker by service.
	LogCounter *prometheus.CounterVec

	// BrokerConsumeErrors counts stream consumption errors by reason.
	BrokerConsumeErrors *prometheus.CounterVec

	// WindowsOpened counts tumbling windows opened by service.
	WindowsOpened *prometheus.CounterVec

	// WindowsClosed counts tumbling windows closed by service and reason
	// (timeout|evicted).
	WindowsClosed *prometheus.CounterVec

	// WindowSpanCount measures the number of spans folded into a window at
	// close time.
	// Buckets: 1, 2, 5, 10, 25, 50, 100, 250
	WindowSpanCount *prometheus.HistogramVec

	// WindowOpenDuration measures how long a window stayed open before
	// closing, in seconds.
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	WindowOpenDuration *prometheus.HistogramVec

	// ScoringDuration measures anomaly scoring latency per service.
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s
	ScoringDuration *prometheus.HistogramVec

	// AnomaliesDetected counts windows scored as anomalous by service.
	AnomaliesDetected *prometheus.CounterVec

	// AlertsEmitted counts alerts successfully posted to the backend.
	AlertsEmitted *prometheus.CounterVec

	// EmitFailures counts failed emission attempts by target (alerts|metrics|logs).
	EmitFailures *prometheus.CounterVec

	// EmitDuration measures the emitter's HTTP round trip latency.
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 2s, 5s, 10s
	EmitDuration *prometheus.HistogramVec

	// HTTPRequestDuration measures backend API request latency.
	// Labels: method, path, status_code
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts backend API requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// DatabaseQueryDuration measures SQLite query latency.
	// Labels: operation (select|insert|update|delete), table
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	DatabaseQueryDuration *prometheus.HistogramVec

	// DatabaseQueryCounter counts SQLite queries.
	// Labels: operation, table, status (success|error)
	DatabaseQueryCounter *prometheus.CounterVec

	// BroadcastSubscribers is a gauge tracking connected WebSocket
	// dashboard clients.
	BroadcastSubscribers prometheus.Gauge

	// BroadcastsSent counts messages fanned out to dashboard subscribers
	// by kind (alert|metric).
	BroadcastsSent *prometheus.CounterVec

	// BroadcastDropped counts broadcasts dropped because a subscriber's
	// send buffer was full.
	BroadcastDropped prometheus.Counter

	// RCARequests counts root-cause-analysis requests by outcome
	// (success|error|degraded).
	RCARequests *prometheus.CounterVec

	// RCADuration measures RCA request latency against the Gemini API.
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s
	RCADuration prometheus.Histogram

	// RedactedFieldsTotal counts log fields redacted before correlation
	// buffering, by pattern name.
	RedactedFieldsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are automatically registered with Prometheus's default registry
// and will be available at the /metrics endpoint when using prometheus HTTP handler.
func NewMetrics() *Metrics {
	return &Metrics{
		SpanCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telemetry_spans_ingested_total",
				Help: "Total number of spans ingested from the broker by service",
			},
			[]string{"service"},
		),

		LogCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telemetry_logs_ingested_total",
				Help: "Total number of log records ingested from the broker by service",
			},
			[]string{"service"},
		),

		BrokerConsumeErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telemetry_broker_consume_errors_total",
				Help: "Total number of stream consumption errors by reason",
			},
			[]string{"reason"},
		),

		WindowsOpened: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telemetry_windows_opened_total",
				Help: "Total number of tumbling windows opened by service",
			},
			[]string{"service"},
		),

		WindowsClosed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telemetry_windows_closed_total",
				Help: "Total number of tumbling windows closed by service and reason",
			},
			[]string{"service", "reason"},
		),

		WindowSpanCount: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "telemetry_window_span_count",
				Help:    "Number of spans folded into a window at close time",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
			},
			[]string{"service"},
		),

		WindowOpenDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "telemetry_window_open_duration_seconds",
				Help:    "Time a window stayed open before closing",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"service"},
		),

		ScoringDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "telemetry_scoring_duration_seconds",
				Help:    "Duration of anomaly scoring per window",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"service"},
		),

		AnomaliesDetected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telemetry_anomalies_detected_total",
				Help: "Total number of windows scored as anomalous by service",
			},
			[]string{"service"},
		),

		AlertsEmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telemetry_alerts_emitted_total",
				Help: "Total number of alerts successfully posted to the backend",
			},
			[]string{"service"},
		),

		EmitFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telemetry_emit_failures_total",
				Help: "Total number of failed emission attempts by target",
			},
			[]string{"target"},
		),

		EmitDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "telemetry_emit_duration_seconds",
				Help:    "Duration of the emitter's HTTP round trip by target",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"target"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "telemetry_http_request_duration_seconds",
				Help:    "Duration of backend HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telemetry_http_requests_total",
				Help: "Total number of backend HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		DatabaseQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "telemetry_database_query_duration_seconds",
				Help:    "Duration of SQLite queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "table"},
		),

		DatabaseQueryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telemetry_database_queries_total",
				Help: "Total number of SQLite queries",
			},
			[]string{"operation", "table", "status"},
		),

		BroadcastSubscribers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "telemetry_broadcast_subscribers",
				Help: "Current number of connected WebSocket dashboard clients",
			},
		),

		BroadcastsSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telemetry_broadcasts_sent_total",
				Help: "Total number of messages fanned out to dashboard subscribers by kind",
			},
			[]string{"kind"},
		),

		BroadcastDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "telemetry_broadcast_dropped_total",
				Help: "Total number of broadcasts dropped because a subscriber's send buffer was full",
			},
		),

		RCARequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telemetry_rca_requests_total",
				Help: "Total number of root-cause-analysis requests by outcome",
			},
			[]string{"outcome"},
		),

		RCADuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "telemetry_rca_duration_seconds",
				Help:    "Duration of root-cause-analysis requests against the Gemini API",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		),

		RedactedFieldsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telemetry_redacted_fields_total",
				Help: "Total number of log fields redacted before correlation buffering, by pattern",
			},
			[]string{"pattern"},
		),
	}
}

// SpanIngested increments the span counter for a given service.
func (m *Metrics) SpanIngested(service string) {
	m.SpanCounter.WithLabelValues(service).Inc()
}

// LogIngested increments the log counter for a given service.
func (m *Metrics) LogIngested(service string) {
	m.LogCounter.WithLabelValues(service).Inc()
}

// RecordBrokerConsumeError increments the broker consume error counter.
func (m *Metrics) RecordBrokerConsumeError(reason string) {
	m.BrokerConsumeErrors.WithLabelValues(reason).Inc()
}

// WindowOpened increments the windows-opened counter for a service.
func (m *Metrics) WindowOpened(service string) {
	m.WindowsOpened.WithLabelValues(service).Inc()
}

// WindowClosed records a window closing, its span count, and how long it
// stayed open.
//
// Example:
//
//	metrics.WindowClosed("checkout", "timeout", 12, 4500*time.Millisecond)
func (m *Metrics) WindowClosed(service, reason string, spanCount int, openDuration float64) {
	m.WindowsClosed.WithLabelValues(service, reason).Inc()
	m.WindowSpanCount.WithLabelValues(service).Observe(float64(spanCount))
	m.WindowOpenDuration.WithLabelValues(service).Observe(openDuration)
}

// RecordScoring records the duration of an anomaly scoring pass, and
// increments the anomaly counter when the window was flagged.
func (m *Metrics) RecordScoring(service string, durationSeconds float64, isAnomaly bool) {
	m.ScoringDuration.WithLabelValues(service).Observe(durationSeconds)
	if isAnomaly {
		m.AnomaliesDetected.WithLabelValues(service).Inc()
	}
}

// RecordEmit records the outcome and latency of an emission attempt to the
// backend.
//
// Example:
//
//	metrics.RecordEmit("alerts", "checkout", 0.042, nil)
func (m *Metrics) RecordEmit(target, service string, durationSeconds float64, err error) {
	m.EmitDuration.WithLabelValues(target).Observe(durationSeconds)
	if err != nil {
		m.EmitFailures.WithLabelValues(target).Inc()
		return
	}
	if target == "alerts" {
		m.AlertsEmitted.WithLabelValues(service).Inc()
	}
}

// RecordHTTPRequest records metrics for a backend HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordDatabaseQuery records metrics for a SQLite query.
func (m *Metrics) RecordDatabaseQuery(operation, table, status string, durationSeconds float64) {
	m.DatabaseQueryCounter.WithLabelValues(operation, table, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}

// SubscriberConnected increments the broadcast subscriber gauge.
func (m *Metrics) SubscriberConnected() {
	m.BroadcastSubscribers.Inc()
}

// SubscriberDisconnected decrements the broadcast subscriber gauge.
func (m *Metrics) SubscriberDisconnected() {
	m.BroadcastSubscribers.Dec()
}

// RecordBroadcast records a fan-out send of the given kind (alert|metric).
func (m *Metrics) RecordBroadcast(kind string) {
	m.BroadcastsSent.WithLabelValues(kind).Inc()
}

// RecordBroadcastDropped increments the dropped-broadcast counter for a
// subscriber whose send buffer was full.
func (m *Metrics) RecordBroadcastDropped() {
	m.BroadcastDropped.Inc()
}

// RecordRCARequest records an RCA request outcome and its latency.
//
// Example:
//
//	metrics.RecordRCARequest("success", 1.8)
//	metrics.RecordRCARequest("degraded", 2.1)
func (m *Metrics) RecordRCARequest(outcome string, durationSeconds float64) {
	m.RCARequests.WithLabelValues(outcome).Inc()
	m.RCADuration.Observe(durationSeconds)
}

// RecordRedaction increments the redacted-fields counter for a named
// pattern.
func (m *Metrics) RecordRedaction(pattern string) {
	m.RedactedFieldsTotal.WithLabelValues(pattern).Inc()
}
