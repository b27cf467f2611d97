// Package scorer assigns per-service anomaly scores to spans.
package scorer

import "sync"

// AnomalyScorer scores a span duration in milliseconds to a value in
// [0,1]. Implementations may hold per-service state; the interface exists
// so the reference threshold scorer can later be swapped for a statistical
// model without touching callers.
type AnomalyScorer interface {
	Score(durationMs float64) float64
}

// anomalyThresholdMs is the duration above which the reference scorer
// considers a span anomalous.
const anomalyThresholdMs = 500.0

// ThresholdScorer is the reference scorer: a hard threshold at 500ms.
type ThresholdScorer struct{}

// Score implements AnomalyScorer.
func (ThresholdScorer) Score(durationMs float64) float64 {
	if durationMs > anomalyThresholdMs {
		return 0.95
	}
	return 0.05
}

// anomalyScoreThreshold is the score above which a span is flagged anomalous.
const anomalyScoreThreshold = 0.5

// IsAnomaly reports whether a score crosses the anomaly threshold.
func IsAnomaly(score float64) bool {
	return score > anomalyScoreThreshold
}

// Registry holds one AnomalyScorer per service, registering new services
// lazily on first observation. It is safe for concurrent use since the
// dataflow may score spans from multiple keys concurrently.
type Registry struct {
	mu      sync.Mutex
	scorers map[string]AnomalyScorer
	newFunc func() AnomalyScorer
}

// NewRegistry creates a scorer registry. newFunc constructs the scorer used
// for each newly observed service; if nil, ThresholdScorer is used.
func NewRegistry(newFunc func() AnomalyScorer) *Registry {
	if newFunc == nil {
		newFunc = func() AnomalyScorer { return ThresholdScorer{} }
	}
	return &Registry{
		scorers: make(map[string]AnomalyScorer),
		newFunc: newFunc,
	}
}

// Score scores a span duration for the given service, registering the
// service's scorer on first observation.
func (r *Registry) Score(service string, durationMs float64) (score float64, isAnomaly bool) {
	r.mu.Lock()
	s, ok := r.scorers[service]
	if !ok {
		s = r.newFunc()
		r.scorers[service] = s
	}
	r.mu.Unlock()

	score = s.Score(durationMs)
	return score, IsAnomaly(score)
}
