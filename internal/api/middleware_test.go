package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestIDMiddlewareGeneratesID(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = w.Header().Get(requestIDHeader)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/alerts", nil)
	handler.ServeHTTP(rec, req)

	if seen == "" {
		t.Fatal("expected a request ID to be assigned")
	}
	if rec.Header().Get(requestIDHeader) != seen {
		t.Errorf("response header %q = %q, want %q", requestIDHeader, rec.Header().Get(requestIDHeader), seen)
	}
}

func TestRequestIDMiddlewareReusesInboundID(t *testing.T) {
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/alerts", nil)
	req.Header.Set(requestIDHeader, "inbound-id-123")
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get(requestIDHeader); got != "inbound-id-123" {
		t.Errorf("request id = %q, want reused inbound-id-123", got)
	}
}

func TestLoggingMiddlewareRecordsRequestID(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequestIDMiddleware(LoggingMiddleware(nil)(inner))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/alerts", nil)
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Error("expected request id header to survive through logging middleware")
	}
}
