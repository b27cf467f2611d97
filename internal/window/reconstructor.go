// Package window reconstructs distributed traces by folding scored spans,
// keyed by trace_id, into tumbling time windows, using an explicit
// wall-clock-driven accumulator.
package window

import (
	"sync"
	"time"

	"github.com/haasonsaas/telemetry-pipeline/pkg/models"
)

// Length is the tumbling window size.
const Length = 10 * time.Second

// epoch is the alignment origin for window boundaries.
var epoch = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

// alignedWindow returns the start of the tumbling window containing t.
func alignedWindow(t time.Time) time.Time {
	elapsed := t.Sub(epoch)
	n := elapsed / Length
	return epoch.Add(n * Length)
}

// Closed is emitted when a window for a trace_id closes.
type Closed struct {
	TraceID   string
	WindowID  time.Time
	Aggregate models.TraceAggregate
}

type entry struct {
	windowID  time.Time
	aggregate models.TraceAggregate
}

// Reconstructor folds scored spans into per-trace, per-window aggregates
// and emits a Closed event once a window's wall-clock deadline passes.
// Late spans (arriving after their window's deadline) are folded into the
// next window rather than reopening the closed one.
type Reconstructor struct {
	mu      sync.Mutex
	current map[string]*entry
	onClose func(Closed)
}

// New creates a Reconstructor. onClose is invoked synchronously (under no
// lock) each time a trace's window closes.
func New(onClose func(Closed)) *Reconstructor {
	return &Reconstructor{
		current: make(map[string]*entry),
		onClose: onClose,
	}
}

// Fold folds a scored span into the window aligned to its start time,
// keyed by trace_id. If the span belongs to a later window than the one
// currently open for its trace_id, the prior window is closed first.
func (r *Reconstructor) Fold(span models.Span, now time.Time) {
	w := alignedWindow(span.StartTime)

	r.mu.Lock()
	e, ok := r.current[span.TraceID]
	if !ok {
		e = &entry{windowID: w, aggregate: models.TraceAggregate{}}
		r.current[span.TraceID] = e
	} else if w.After(e.windowID) {
		closed := Closed{TraceID: span.TraceID, WindowID: e.windowID, Aggregate: e.aggregate}
		e.windowID = w
		e.aggregate = models.TraceAggregate{}
		r.mu.Unlock()
		r.onClose(closed)
		r.mu.Lock()
	}
	e.aggregate.Fold(span)
	r.mu.Unlock()
}

// Tick closes any open window whose deadline (windowID + Length) has
// passed as of now. Callers drive this on an interval (e.g. every
// Length/2) so that traces with no further spans still close.
func (r *Reconstructor) Tick(now time.Time) {
	var toClose []Closed

	r.mu.Lock()
	for traceID, e := range r.current {
		if !now.Before(e.windowID.Add(Length)) {
			toClose = append(toClose, Closed{TraceID: traceID, WindowID: e.windowID, Aggregate: e.aggregate})
			delete(r.current, traceID)
		}
	}
	r.mu.Unlock()

	for _, c := range toClose {
		r.onClose(c)
	}
}
