package rca

import (
	"errors"
	"testing"

	"github.com/haasonsaas/telemetry-pipeline/pkg/models"
)

func TestStripMarkdownFenceHandlesJSONFence(t *testing.T) {
	raw := "```json\n{\"root_cause\": \"x\"}\n```"
	got := stripMarkdownFence(raw)
	if got != `{"root_cause": "x"}` {
		t.Errorf("got %q", got)
	}
}

func TestStripMarkdownFenceHandlesPlainFence(t *testing.T) {
	raw := "```\n{\"root_cause\": \"x\"}\n```"
	got := stripMarkdownFence(raw)
	if got != `{"root_cause": "x"}` {
		t.Errorf("got %q", got)
	}
}

func TestStripMarkdownFenceLeavesUnfencedTextAlone(t *testing.T) {
	raw := `{"root_cause": "x"}`
	if got := stripMarkdownFence(raw); got != raw {
		t.Errorf("got %q, want unchanged", got)
	}
}

func TestBuildPromptIncludesTraceIDAndForensics(t *testing.T) {
	trace := models.TraceRecord{TraceID: "t1", DurationMs: 900}
	prompt, err := buildPrompt("t1", trace)
	if err != nil {
		t.Fatalf("buildPrompt: %v", err)
	}
	if !contains(prompt, "t1") || !contains(prompt, "STRICT JSON") {
		t.Errorf("prompt missing expected content: %q", prompt)
	}
}

func TestDegradedResultHasZeroConfidenceAndNoFixes(t *testing.T) {
	result := degraded(errors.New("boom"))
	if result.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", result.Confidence)
	}
	if len(result.SuggestedFixes) != 0 {
		t.Errorf("expected no suggested fixes, got %v", result.SuggestedFixes)
	}
	if !contains(result.RootCause, "boom") {
		t.Errorf("root_cause = %q, want it to mention the failure", result.RootCause)
	}
}

func TestNewRejectsEmptyAPIKey(t *testing.T) {
	if _, err := New(nil, ""); err == nil {
		t.Error("expected error for empty api key")
	}
}

func contains(s, substr string) bool {
	return len(substr) == 0 || (len(s) >= len(substr) && indexOf(s, substr) >= 0)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
