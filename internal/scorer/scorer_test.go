package scorer

import "testing"

func TestThresholdScorerAboveThreshold(t *testing.T) {
	score := ThresholdScorer{}.Score(1500)
	if score <= 0.5 || !IsAnomaly(score) {
		t.Errorf("duration above threshold should score >0.5 and be anomalous, got %v", score)
	}
}

func TestThresholdScorerAtOrBelowThreshold(t *testing.T) {
	for _, d := range []float64{0, 100, 500} {
		score := ThresholdScorer{}.Score(d)
		if score > 0.5 || IsAnomaly(score) {
			t.Errorf("duration %v should score <=0.5 and not be anomalous, got %v", d, score)
		}
	}
}

func TestRegistryRegistersPerService(t *testing.T) {
	calls := 0
	reg := NewRegistry(func() AnomalyScorer {
		calls++
		return ThresholdScorer{}
	})

	reg.Score("quote", 100)
	reg.Score("quote", 200)
	reg.Score("cart", 100)

	if calls != 2 {
		t.Errorf("expected one scorer per distinct service (2), got %d constructions", calls)
	}
}

func TestRegistryScoreMatchesUnderlyingScorer(t *testing.T) {
	reg := NewRegistry(nil)
	score, anomaly := reg.Score("quote", 1500)
	if score != 0.95 || !anomaly {
		t.Errorf("got score=%v anomaly=%v, want 0.95/true", score, anomaly)
	}
}
