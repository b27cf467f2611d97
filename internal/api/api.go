package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/telemetry-pipeline/internal/observability"
	"github.com/haasonsaas/telemetry-pipeline/internal/storage"
	"github.com/haasonsaas/telemetry-pipeline/pkg/models"
)

// maxAPIRequestBodyBytes bounds ingestion payload size, grounded on the
// teacher's decodeJSONRequest (internal/web/api.go).
const maxAPIRequestBodyBytes int64 = 1024 * 1024

// Broadcaster pushes live updates to connected dashboard subscribers. It is
// satisfied by *hub.Hub; narrowed to an interface so handlers are testable
// without a real WebSocket connection.
type Broadcaster interface {
	BroadcastAlert(models.Alert)
	BroadcastMetric(models.MetricSample)
}

// RCAAnalyzer produces a root-cause analysis for a trace. Satisfied by
// *rca.Analyzer.
type RCAAnalyzer interface {
	Analyze(ctx context.Context, traceID string, trace models.TraceRecord) models.RCAResult
}

// Config wires the backend's dependencies into the HTTP handler.
type Config struct {
	Alerts  storage.AlertStore
	Metrics storage.MetricStore
	Traces  storage.TraceStore
	Hub     Broadcaster
	// RCA is nil when GEMINI_API_KEY was not configured; rcaHandler returns
	// 503 in that case.
	RCA            RCAAnalyzer
	Logger         *slog.Logger
	WSHandler      http.Handler
	AllowedOrigins []string
	// ObsMetrics and Tracer are optional; nil disables the corresponding
	// middleware and database-call instrumentation.
	ObsMetrics *observability.Metrics
	Tracer     *observability.Tracer
}

// Handler is the backend's HTTP entrypoint.
type Handler struct {
	config *Config
	mux    *http.ServeMux
}

// NewHandler builds a Handler with all routes registered.
func NewHandler(cfg *Config) *Handler {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	h := &Handler{config: cfg, mux: http.NewServeMux()}
	h.setupRoutes()
	return h
}

func (h *Handler) setupRoutes() {
	h.mux.HandleFunc("/api/alerts", h.alerts)
	h.mux.HandleFunc("/api/metrics", h.createMetric)
	h.mux.HandleFunc("/api/metrics/", h.listMetrics)
	h.mux.HandleFunc("/api/traces", h.createTrace)
	h.mux.HandleFunc("/api/traces/", h.getTrace)
	h.mux.HandleFunc("/api/logs", h.ingestLog)
	h.mux.HandleFunc("/api/rca/", h.rootCauseAnalysis)
	if h.config.WSHandler != nil {
		h.mux.Handle("/ws", h.config.WSHandler)
	}
}

// ServeHTTP applies request-ID assignment, CORS, and logging middleware,
// then dispatches to the registered routes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	chain := RequestIDMiddleware(
		CORSMiddleware(h.config.AllowedOrigins)(
			LoggingMiddleware(h.config.Logger)(
				MetricsMiddleware(h.config.ObsMetrics)(
					TracingMiddleware(h.config.Tracer)(h.mux)))))
	chain.ServeHTTP(w, r)
}

// timedDBCall runs fn, which makes exactly one storage call, recording its
// duration and outcome against ObsMetrics and wrapping it in a database
// span when Tracer is configured.
func (h *Handler) timedDBCall(ctx context.Context, operation, table string, fn func(ctx context.Context) error) error {
	start := time.Now()
	if h.config.Tracer != nil {
		spanCtx, span := h.config.Tracer.TraceDatabaseQuery(ctx, operation, table)
		defer span.End()
		ctx = spanCtx
	}
	err := fn(ctx)
	if h.config.ObsMetrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		h.config.ObsMetrics.RecordDatabaseQuery(operation, table, status, time.Since(start).Seconds())
	}
	return err
}

// alerts handles POST /api/alerts (ingestion) and GET /api/alerts (list,
// optionally filtered by ?service=).
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createAlert(w, r)
	case http.MethodGet:
		h.listAlerts(w, r)
	default:
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) createAlert(w http.ResponseWriter, r *http.Request) {
	var alert models.Alert
	if status, err := decodeJSONRequest(w, r, &alert); err != nil {
		h.jsonError(w, err.Error(), status)
		return
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	ctx := r.Context()
	if h.config.Alerts != nil {
		err := h.timedDBCall(ctx, "insert", "alerts", func(ctx context.Context) error {
			return h.config.Alerts.Create(ctx, &alert)
		})
		if err != nil {
			h.config.Logger.Error("api: create alert failed", "error", err)
			h.jsonError(w, "failed to store alert", http.StatusInternalServerError)
			return
		}
	}
	if h.config.Hub != nil {
		h.config.Hub.BroadcastAlert(alert)
	}
	h.jsonResponse(w, alert, http.StatusAccepted)
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if h.config.Alerts == nil {
		h.jsonResponse(w, []models.Alert{}, http.StatusOK)
		return
	}
	service := strings.TrimSpace(r.URL.Query().Get("service"))
	var alerts []*models.Alert
	err := h.timedDBCall(r.Context(), "select", "alerts", func(ctx context.Context) error {
		var err error
		alerts, err = h.config.Alerts.List(ctx, service)
		return err
	})
	if err != nil {
		h.jsonError(w, "failed to list alerts", http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, alerts, http.StatusOK)
}

func (h *Handler) createMetric(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var sample models.MetricSample
	if status, err := decodeJSONRequest(w, r, &sample); err != nil {
		h.jsonError(w, err.Error(), status)
		return
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}

	if h.config.Metrics != nil {
		err := h.timedDBCall(r.Context(), "insert", "metrics", func(ctx context.Context) error {
			return h.config.Metrics.Create(ctx, &sample)
		})
		if err != nil {
			h.config.Logger.Error("api: create metric failed", "error", err)
			h.jsonError(w, "failed to store metric", http.StatusInternalServerError)
			return
		}
	}
	if h.config.Hub != nil {
		h.config.Hub.BroadcastMetric(sample)
	}
	h.jsonResponse(w, sample, http.StatusAccepted)
}

// listMetrics handles GET /api/metrics/{service}/{metric_type}.
func (h *Handler) listMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/metrics/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		h.jsonError(w, "service and metric_type are required", http.StatusBadRequest)
		return
	}
	if h.config.Metrics == nil {
		h.jsonResponse(w, []models.MetricSample{}, http.StatusOK)
		return
	}
	var samples []*models.MetricSample
	err := h.timedDBCall(r.Context(), "select", "metrics", func(ctx context.Context) error {
		var err error
		samples, err = h.config.Metrics.List(ctx, parts[0], models.MetricType(parts[1]))
		return err
	})
	if err != nil {
		h.jsonError(w, "failed to list metrics", http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, samples, http.StatusOK)
}

func (h *Handler) createTrace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var rec models.TraceRecord
	if status, err := decodeJSONRequest(w, r, &rec); err != nil {
		h.jsonError(w, err.Error(), status)
		return
	}
	if rec.IngestTime.IsZero() {
		rec.IngestTime = time.Now().UTC()
	}
	if h.config.Traces != nil {
		err := h.timedDBCall(r.Context(), "upsert", "trace_inventory", func(ctx context.Context) error {
			return h.config.Traces.Upsert(ctx, &rec)
		})
		if err != nil {
			h.config.Logger.Error("api: upsert trace failed", "error", err)
			h.jsonError(w, "failed to store trace", http.StatusInternalServerError)
			return
		}
	}
	h.jsonResponse(w, rec, http.StatusAccepted)
}

// getTrace handles GET /api/traces/{trace_id}.
func (h *Handler) getTrace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	traceID := strings.TrimPrefix(r.URL.Path, "/api/traces/")
	if traceID == "" {
		h.jsonError(w, "trace_id is required", http.StatusBadRequest)
		return
	}
	if h.config.Traces == nil {
		h.jsonError(w, "trace not found", http.StatusNotFound)
		return
	}
	var rec *models.TraceRecord
	err := h.timedDBCall(r.Context(), "select", "trace_inventory", func(ctx context.Context) error {
		var err error
		rec, err = h.config.Traces.Get(ctx, traceID)
		return err
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.jsonError(w, "trace not found", http.StatusNotFound)
			return
		}
		h.jsonError(w, "failed to fetch trace", http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, rec, http.StatusOK)
}

// ingestLog accepts a correlated log for best-effort delivery to the
// dashboard. The emitter side treats this as fire-and-forget, so the
// backend just acknowledges receipt.
func (h *Handler) ingestLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var log models.CorrelatedLog
	if status, err := decodeJSONRequest(w, r, &log); err != nil {
		h.jsonError(w, err.Error(), status)
		return
	}
	h.jsonResponse(w, map[string]string{"status": "accepted"}, http.StatusAccepted)
}

// rootCauseAnalysis handles POST /api/rca/{trace_id}.
func (h *Handler) rootCauseAnalysis(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.config.RCA == nil {
		h.jsonError(w, "rca not configured: set GEMINI_API_KEY", http.StatusServiceUnavailable)
		return
	}
	traceID := strings.TrimPrefix(r.URL.Path, "/api/rca/")
	if traceID == "" {
		h.jsonError(w, "trace_id is required", http.StatusBadRequest)
		return
	}
	if h.config.Traces == nil {
		h.jsonError(w, "trace not found", http.StatusNotFound)
		return
	}
	var rec *models.TraceRecord
	err := h.timedDBCall(r.Context(), "select", "trace_inventory", func(ctx context.Context) error {
		var err error
		rec, err = h.config.Traces.Get(ctx, traceID)
		return err
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.jsonError(w, "trace not found", http.StatusNotFound)
			return
		}
		h.jsonError(w, "failed to fetch trace", http.StatusInternalServerError)
		return
	}

	result := h.config.RCA.Analyze(r.Context(), traceID, *rec)
	h.jsonResponse(w, result, http.StatusOK)
}

func decodeJSONRequest(w http.ResponseWriter, r *http.Request, dst any) (int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAPIRequestBodyBytes)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return http.StatusRequestEntityTooLarge, errors.New("request body too large")
		}
		return http.StatusBadRequest, errors.New("invalid request body")
	}
	return 0, nil
}

func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.config.Logger.Error("api: json encode error", "error", err)
	}
}

func (h *Handler) jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
