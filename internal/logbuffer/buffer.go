// Package logbuffer correlates log records with the trace windows they
// belong to, flushing them to the backend only when that trace's window
// closed anomalous, using a mutex-guarded map keyed by trace_id.
package logbuffer

import (
	"strings"
	"sync"

	"github.com/haasonsaas/telemetry-pipeline/pkg/models"
)

// Cap is the maximum number of log entries retained per trace_id; entries
// beyond the cap are silently dropped.
const Cap = 50

// redactionCadence is the increment interval at which the redaction
// counter emits a metric.
const redactionCadence = 5

// Buffer holds per-trace log entries pending a window-close decision.
type Buffer struct {
	mu      sync.Mutex
	entries map[string][]models.CorrelatedLog
}

// New creates an empty Buffer.
func New() *Buffer {
	return &Buffer{entries: make(map[string][]models.CorrelatedLog)}
}

// Append records a log under its trace_id if the trace_id is non-empty and
// the per-trace entry count is under Cap. A log with an empty trace_id is
// never buffered, since it cannot be correlated to any trace.
func (b *Buffer) Append(log models.LogRecord) {
	if log.TraceID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries[log.TraceID]) >= Cap {
		return
	}
	b.entries[log.TraceID] = append(b.entries[log.TraceID], models.CorrelatedLog{
		TraceID:     log.TraceID,
		SpanID:      log.SpanID,
		ServiceName: log.ServiceName,
		Body:        log.Body,
		Severity:    log.Severity,
		Timestamp:   log.Timestamp,
	})
}

// Close is called when a trace's window closes. If anomalous, the buffered
// entries for that trace_id are returned for the caller to flush to the
// backend; otherwise they are discarded. Either way, the entry is removed.
func (b *Buffer) Close(traceID string, anomalous bool) []models.CorrelatedLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	logs := b.entries[traceID]
	delete(b.entries, traceID)
	if !anomalous {
		return nil
	}
	return logs
}

// RedactionCounter tracks a per-service count of log bodies carrying
// redaction markers, emitting on every 5th increment.
type RedactionCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewRedactionCounter creates an empty counter.
func NewRedactionCounter() *RedactionCounter {
	return &RedactionCounter{counts: make(map[string]int)}
}

var redactionPatterns = map[string]string{
	"[REDACTED_EMAIL]":  "email",
	"[REDACTED_AUTHOR]": "author",
}

func containsRedactionMarker(body string) bool {
	for m := range redactionPatterns {
		if strings.Contains(body, m) {
			return true
		}
	}
	return false
}

// MatchedPattern returns the name of the first redaction marker found in
// body, or "" if none match. Callers use this to label the
// redacted_fields_total metric.
func MatchedPattern(body string) string {
	for m, name := range redactionPatterns {
		if strings.Contains(body, m) {
			return name
		}
	}
	return ""
}

// Observe inspects a log body for redaction markers. It returns the
// service's new counter value and whether this increment should be
// emitted as a redaction_count metric (true on every 5th increment). If
// the body carries no marker, it returns (currentCount, false) without
// incrementing.
func (c *RedactionCounter) Observe(service, body string) (count int, emit bool) {
	if !containsRedactionMarker(body) {
		c.mu.Lock()
		count = c.counts[service]
		c.mu.Unlock()
		return count, false
	}
	c.mu.Lock()
	c.counts[service]++
	count = c.counts[service]
	c.mu.Unlock()
	return count, count%redactionCadence == 0
}
