// Package otlp extracts span and log records from OTLP-shaped JSON payloads.
//
// Payloads arrive as loosely-typed JSON from the broker; every nested key is
// optional, so extraction is defensive throughout — an absent or
// wrong-shaped field yields a zero value rather than an error. Non-OTLP
// shapes yield an empty slice, never an error.
package otlp

import (
	"encoding/json"
	"strconv"
	"time"
)

// Payload is a raw decoded broker message; it may carry resourceSpans,
// resourceLogs, or neither.
type Payload map[string]any

// ParseSpans walks resourceSpans -> scopeSpans -> spans and lifts the
// service.name resource attribute and http.route span attribute (falling
// back to the span name) onto each result.
func ParseSpans(payload Payload) []SpanRecord {
	var out []SpanRecord
	for _, rs := range asSlice(payload["resourceSpans"]) {
		resource := asMap(rs["resource"])
		serviceName := extractAttr(resource, "service.name")
		for _, ss := range asSlice(rs["scopeSpans"]) {
			for _, sp := range asSlice(ss["spans"]) {
				span := asMap(sp)
				startNano := asInt64(span["startTimeUnixNano"])
				endNano := asInt64(span["endTimeUnixNano"])
				var durationMs float64
				if startNano != 0 && endNano != 0 {
					durationMs = float64(endNano-startNano) / 1e6
				}
				route := extractAttr(span, "http.route")
				name := asString(span["name"])
				if route == "" {
					route = name
				}
				statusCode := 0
				if status := asMap(span["status"]); status != nil {
					statusCode = int(asInt64(status["code"]))
				}
				out = append(out, SpanRecord{
					TraceID:      asString(span["traceId"]),
					SpanID:       asString(span["spanId"]),
					ParentSpanID: asString(span["parentSpanId"]),
					ServiceName:  serviceName,
					SpanName:     name,
					Route:        route,
					DurationMs:   durationMs,
					StartTime:    nanoToTime(startNano),
					StatusCode:   statusCode,
				})
			}
		}
	}
	return out
}

// ParseLogs walks resourceLogs -> scopeLogs -> logRecords.
func ParseLogs(payload Payload) []LogRecord {
	var out []LogRecord
	for _, rl := range asSlice(payload["resourceLogs"]) {
		resource := asMap(rl["resource"])
		serviceName := extractAttr(resource, "service.name")
		for _, sl := range asSlice(rl["scopeLogs"]) {
			for _, lr := range asSlice(sl["logRecords"]) {
				log := asMap(lr)
				severity := asString(log["severityText"])
				if severity == "" {
					severity = "INFO"
				}
				timeNano := asInt64(log["timeUnixNano"])
				ts := nanoToTime(timeNano)
				if ts.IsZero() {
					ts = time.Now().UTC()
				}
				body := ""
				if b := asMap(log["body"]); b != nil {
					body = asString(b["stringValue"])
				}
				out = append(out, LogRecord{
					TraceID:     asString(log["traceId"]),
					SpanID:      asString(log["spanId"]),
					ServiceName: serviceName,
					Body:        body,
					Severity:    severity,
					Timestamp:   ts,
				})
			}
		}
	}
	return out
}

// SpanRecord is a span as lifted out of an OTLP payload, before scoring.
type SpanRecord struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	ServiceName  string
	SpanName     string
	Route        string
	DurationMs   float64
	StartTime    time.Time
	StatusCode   int
}

// LogRecord is a log record as lifted out of an OTLP payload.
type LogRecord struct {
	TraceID     string
	SpanID      string
	ServiceName string
	Body        string
	Severity    string
	Timestamp   time.Time
}

func extractAttr(container map[string]any, key string) string {
	for _, a := range asSlice(container["attributes"]) {
		attr := asMap(a)
		if asString(attr["key"]) != key {
			continue
		}
		if v := asMap(attr["value"]); v != nil {
			return asString(v["stringValue"])
		}
	}
	return ""
}

func nanoToTime(nano int64) time.Time {
	if nano == 0 {
		return time.Time{}
	}
	return time.Unix(0, nano).UTC()
}

func asSlice(v any) []map[string]any {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		out = append(out, asMap(item))
	}
	return out
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asInt64 accepts both float64 (the default json.Unmarshal numeric type)
// and json.Number/string, since some OTLP exporters encode large
// nanosecond timestamps as strings to avoid float64 precision loss.
func asInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}
