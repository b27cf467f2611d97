// Package pipeline wires the broker source, parser, scorer, window
// reconstructor, log buffer, and emitter into a single consume-parse-score-
// emit loop: spans flow through the window reconstructor and scorer into
// closed-window emission, logs flow directly into the per-trace log buffer.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/haasonsaas/telemetry-pipeline/internal/broker"
	"github.com/haasonsaas/telemetry-pipeline/internal/emitter"
	"github.com/haasonsaas/telemetry-pipeline/internal/logbuffer"
	"github.com/haasonsaas/telemetry-pipeline/internal/observability"
	"github.com/haasonsaas/telemetry-pipeline/internal/otlp"
	"github.com/haasonsaas/telemetry-pipeline/internal/scorer"
	"github.com/haasonsaas/telemetry-pipeline/internal/window"
	"github.com/haasonsaas/telemetry-pipeline/pkg/models"
)

// tickInterval drives Reconstructor.Tick, closing windows whose deadline
// has passed even when no further spans arrive for a trace.
const tickInterval = window.Length / 2

// Source is the subset of broker.Source the pipeline depends on, narrowed
// to an interface so tests can substitute a fake.
type Source interface {
	Next(ctx context.Context) ([]otlp.Payload, error)
}

// Emitter is the subset of emitter.Emitter the pipeline depends on.
type Emitter interface {
	EmitTrace(ctx context.Context, rec models.TraceRecord)
	EmitMetric(ctx context.Context, sample models.MetricSample)
	EmitAlert(ctx context.Context, alert models.Alert)
	EmitLog(ctx context.Context, log models.CorrelatedLog)
}

var (
	_ Source  = (*broker.Source)(nil)
	_ Emitter = (*emitter.Emitter)(nil)
)

// Option configures optional Pipeline dependencies.
type Option func(*Pipeline)

// WithMetrics records ingestion, scoring, window, and redaction counters
// against m.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithTracer wraps window close in a span.
func WithTracer(t *observability.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// Pipeline owns the stages and their wiring. It holds no exported state;
// callers interact with it only through Run.
type Pipeline struct {
	source    Source
	emit      Emitter
	scorers   *scorer.Registry
	logBuf    *logbuffer.Buffer
	redaction *logbuffer.RedactionCounter
	logger    *slog.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
}

// New creates a Pipeline from its already-constructed stage dependencies.
func New(source Source, emit Emitter, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		source:    source,
		emit:      emit,
		scorers:   scorer.NewRegistry(nil),
		logBuf:    logbuffer.New(),
		redaction: logbuffer.NewRedactionCounter(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run consumes from the broker until ctx is cancelled. It blocks.
func (p *Pipeline) Run(ctx context.Context) error {
	recon := window.New(p.onWindowClose)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			recon.Tick(now)
		default:
		}

		payloads, err := p.source.Next(ctx)
		if err != nil {
			if err == context.Canceled || err == context.DeadlineExceeded {
				return err
			}
			p.logger.Warn("pipeline: broker error, will retry on next Next call", "error", err)
			if p.metrics != nil {
				p.metrics.RecordBrokerConsumeError("transient")
			}
			continue
		}

		for _, payload := range payloads {
			p.ingestSpans(recon, payload)
			p.ingestLogs(payload)
		}
	}
}

func (p *Pipeline) ingestSpans(recon *window.Reconstructor, payload otlp.Payload) {
	for _, rec := range otlp.ParseSpans(payload) {
		if p.metrics != nil {
			p.metrics.SpanIngested(rec.ServiceName)
		}

		scoreStart := time.Now()
		score, anomalous := p.scorers.Score(rec.ServiceName, rec.DurationMs)
		if p.metrics != nil {
			p.metrics.RecordScoring(rec.ServiceName, time.Since(scoreStart).Seconds(), anomalous)
		}

		span := models.Span{
			TraceID:      rec.TraceID,
			SpanID:       rec.SpanID,
			ParentSpanID: rec.ParentSpanID,
			ServiceName:  rec.ServiceName,
			SpanName:     rec.SpanName,
			Route:        rec.Route,
			DurationMs:   rec.DurationMs,
			StartTime:    rec.StartTime,
			StatusCode:   rec.StatusCode,
			AnomalyScore: score,
			IsAnomaly:    anomalous,
		}
		recon.Fold(span, time.Now().UTC())
	}
}

func (p *Pipeline) ingestLogs(payload otlp.Payload) {
	for _, rec := range otlp.ParseLogs(payload) {
		if p.metrics != nil {
			p.metrics.LogIngested(rec.ServiceName)
		}

		log := models.LogRecord{
			TraceID:     rec.TraceID,
			SpanID:      rec.SpanID,
			ServiceName: rec.ServiceName,
			Body:        rec.Body,
			Severity:    rec.Severity,
			Timestamp:   rec.Timestamp,
		}
		p.logBuf.Append(log)

		count, emit := p.redaction.Observe(log.ServiceName, log.Body)
		if emit {
			if p.metrics != nil {
				if pattern := logbuffer.MatchedPattern(log.Body); pattern != "" {
					p.metrics.RecordRedaction(pattern)
				}
			}
			p.emit.EmitMetric(context.Background(), models.MetricSample{
				Service:    log.ServiceName,
				MetricType: models.MetricRedactionCount,
				Value:      float64(count),
				Timestamp:  time.Now().UTC(),
			})
		}
	}
}

// onWindowClose applies the emission rules for a closed (trace_id, window)
// aggregate: trace inventory only if anomalous, per-service
// throughput/latency always, per-service alert only if that service has an
// anomalous constituent span, and the log buffer flush decision for the
// same trace_id.
func (p *Pipeline) onWindowClose(c window.Closed) {
	ctx := context.Background()
	now := time.Now().UTC()

	if len(c.Aggregate.Spans) == 0 {
		return
	}

	if p.tracer != nil {
		spanCtx, span := p.tracer.TraceWindowClose(ctx, emitter.ServicesIn(c.Aggregate.Spans)[0], c.TraceID)
		defer span.End()
		ctx = spanCtx
	}

	if p.metrics != nil {
		openDuration := now.Sub(c.WindowID).Seconds()
		for _, svc := range emitter.ServicesIn(c.Aggregate.Spans) {
			spanCount := 0
			for _, s := range c.Aggregate.Spans {
				if s.Service == svc {
					spanCount++
				}
			}
			p.metrics.WindowClosed(svc, "closed", spanCount, openDuration)
		}
	}

	if c.Aggregate.HasAnomaly {
		p.emit.EmitTrace(ctx, models.TraceRecord{
			TraceID:    c.TraceID,
			DurationMs: c.Aggregate.DurationMs,
			Spans:      c.Aggregate.Spans,
			IngestTime: now,
		})
	}

	for _, svc := range emitter.ServicesIn(c.Aggregate.Spans) {
		for _, sample := range emitter.BuildMetrics(svc, c.Aggregate.Spans, now) {
			p.emit.EmitMetric(ctx, sample)
		}
		if alert, ok := emitter.BuildAlert(c.TraceID, svc, c.Aggregate.Spans, now); ok {
			p.emit.EmitAlert(ctx, alert)
		}
	}

	flushed := p.logBuf.Close(c.TraceID, c.Aggregate.HasAnomaly)
	for _, log := range flushed {
		p.emit.EmitLog(ctx, log)
	}
}
