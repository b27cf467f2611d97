// Package api exposes the backend's HTTP and WebSocket surface: ingestion
// endpoints the stream processor posts to, read endpoints the dashboard
// polls, and the RCA trigger. It is a pure JSON API with no HTML templates
// since this backend has no dashboard UI of its own.
package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/telemetry-pipeline/internal/observability"
)

// requestIDHeader carries the request ID assigned by RequestIDMiddleware
// back to the caller, and is honored as an inbound correlation ID from the
// stream processor if already set.
const requestIDHeader = "X-Request-Id"

// RequestIDMiddleware assigns each request a UUID for cross-log
// correlation, reusing an inbound X-Request-Id if the caller already set
// one.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// LoggingMiddleware logs each request's method, path, status, duration, and
// request ID.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			if logger != nil {
				logger.Debug("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", wrapped.status,
					"duration", time.Since(start),
					"request_id", w.Header().Get(requestIDHeader),
				)
			}
		})
	}
}

// CORSMiddleware allows the dashboard, served from a different origin in
// development, to call the API and connect to the WebSocket hub.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
					break
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MetricsMiddleware records request count and latency by method, path, and
// status code. A nil metrics collector turns this into a no-op wrapper so
// handlers built without observability wiring (unit tests) are unaffected.
func MetricsMiddleware(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(wrapped.status), time.Since(start).Seconds())
		})
	}
}

// TracingMiddleware starts a server span for each request. A nil tracer
// turns this into a no-op wrapper.
func TracingMiddleware(tracer *observability.Tracer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tracer == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracer.TraceHTTPRequest(r.Context(), r.Method, r.URL.Path)
			defer span.End()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}
