// Package rca calls out to Gemini to produce a root-cause analysis for an
// anomalous trace, using a single non-streaming call and stripping any
// markdown code fence the model wraps its JSON response in.
package rca

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/haasonsaas/telemetry-pipeline/internal/observability"
	"github.com/haasonsaas/telemetry-pipeline/pkg/models"
)

const defaultModel = "gemini-2.5-flash-lite"

// Option configures optional Analyzer dependencies.
type Option func(*Analyzer)

// WithMetrics records request outcome and duration against m.
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// Analyzer produces a root-cause analysis for an anomalous trace. Any
// failure (API error, malformed response) yields a degraded RCAResult
// rather than propagating an error: confidence 0, empty fixes, root_cause
// describing the failure.
type Analyzer struct {
	client  *genai.Client
	model   string
	metrics *observability.Metrics
}

// New creates an Analyzer. apiKey must be non-empty; callers should check
// for an empty GEMINI_API_KEY before constructing one and return 503
// instead.
func New(ctx context.Context, apiKey string, opts ...Option) (*Analyzer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("rca: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("rca: create client: %w", err)
	}
	a := &Analyzer{client: client, model: defaultModel}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Analyze produces a root-cause analysis for the given trace record.
func (a *Analyzer) Analyze(ctx context.Context, traceID string, trace models.TraceRecord) models.RCAResult {
	start := time.Now()
	result := a.doAnalyze(ctx, traceID, trace)
	if a.metrics != nil {
		outcome := "success"
		if result.Confidence == 0 {
			outcome = "degraded"
		}
		a.metrics.RecordRCARequest(outcome, time.Since(start).Seconds())
	}
	return result
}

func (a *Analyzer) doAnalyze(ctx context.Context, traceID string, trace models.TraceRecord) models.RCAResult {
	prompt, err := buildPrompt(traceID, trace)
	if err != nil {
		return degraded(err)
	}

	resp, err := a.client.Models.GenerateContent(ctx, a.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}, Role: genai.RoleUser}},
		nil,
	)
	if err != nil {
		return degraded(err)
	}

	text := extractText(resp)
	if text == "" {
		return degraded(fmt.Errorf("empty response"))
	}

	var result models.RCAResult
	if err := json.Unmarshal([]byte(stripMarkdownFence(text)), &result); err != nil {
		return degraded(err)
	}
	return result
}

func buildPrompt(traceID string, trace models.TraceRecord) (string, error) {
	forensics, err := json.MarshalIndent(trace, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal forensic context: %w", err)
	}
	return fmt.Sprintf(`You are an expert SRE. Analyze this anomalous trace ID: %s.

FORENSIC CONTEXT:
%s

MISSION: Identify why this specific request failed or was slow.

FORMAT YOUR RESPONSE AS STRICT JSON:
{
  "root_cause": "brief explanation (max 20 words)",
  "suggested_fixes": ["fix 1", "fix 2"],
  "risk_prediction": "one-sentence impact if not solved",
  "confidence": 0.95
}`, traceID, forensics), nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if p != nil {
				sb.WriteString(p.Text)
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

// stripMarkdownFence removes a ```json ... ``` or ``` ... ``` wrapper some
// Gemini responses add around the JSON payload.
func stripMarkdownFence(text string) string {
	if strings.Contains(text, "```json") {
		parts := strings.SplitN(text, "```json", 2)
		if len(parts) == 2 {
			if end := strings.Index(parts[1], "```"); end >= 0 {
				return strings.TrimSpace(parts[1][:end])
			}
		}
	}
	if strings.Contains(text, "```") {
		parts := strings.SplitN(text, "```", 3)
		if len(parts) >= 2 {
			return strings.TrimSpace(parts[1])
		}
	}
	return text
}

func degraded(err error) models.RCAResult {
	return models.RCAResult{
		RootCause:      fmt.Sprintf("Analysis failed: %v", err),
		SuggestedFixes: []string{},
		RiskPrediction: "N/A",
		Confidence:     0,
	}
}
