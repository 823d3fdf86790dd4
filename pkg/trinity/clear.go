package trinity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/pbjustin/Arcanos-sub003/pkg/llm"
)

// clearSystemPrompt demands JSON-only scoring of a reasoning ledger.
const clearSystemPrompt = `You are a reasoning auditor. Score the reasoning ledger you are given on five axes,
each from 0 to 5: clarity, leverage, efficiency, alignment, resilience.
Respond with ONLY a JSON object of the form:
{"clarity": 0, "leverage": 0, "efficiency": 0, "alignment": 0, "resilience": 0, "overall": 0}
No prose, no markdown fences.`

// Auditor scores reasoning ledgers through the model backend. The audit is
// advisory: any backend or parse failure yields the all-zeros fallback.
type Auditor struct {
	backend llm.Backend
	model   string
}

// NewAuditor creates a CLEAR auditor using the given scoring model.
func NewAuditor(backend llm.Backend, model string) *Auditor {
	return &Auditor{backend: backend, model: model}
}

// Score audits a ledger. It never fails: on any error the zero score is
// returned along with the error for warn-logging by the caller.
func (a *Auditor) Score(ctx context.Context, ledger *ReasoningLedger) (ClearScore, error) {
	var zero ClearScore
	if ledger == nil {
		return zero, fmt.Errorf("nil ledger")
	}

	serialized, err := json.Marshal(ledger)
	if err != nil {
		return zero, fmt.Errorf("serializing ledger: %w", err)
	}

	resp, err := a.backend.Complete(ctx, &llm.CompletionRequest{
		Model:       a.model,
		Temperature: 0.0,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: clearSystemPrompt},
			{Role: llm.RoleUser, Content: string(serialized)},
		},
	})
	if err != nil {
		return zero, fmt.Errorf("audit call failed: %w", err)
	}

	score, err := parseClearResponse(resp.Text)
	if err != nil {
		return zero, err
	}
	score.Normalize()
	return score, nil
}

// parseClearResponse tolerates markdown fences and surrounding prose: it
// extracts the first JSON object from the text.
func parseClearResponse(text string) (ClearScore, error) {
	var score ClearScore
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return score, fmt.Errorf("no JSON object in audit response")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &score); err != nil {
		return score, fmt.Errorf("parsing audit response: %w", err)
	}
	return score, nil
}

// Threshold bounds for the auto-tuner.
const (
	defaultClearThreshold = 3.0
	minClearThreshold     = 2.0
	maxClearThreshold     = 4.0
	thresholdAlpha        = 0.05
)

// ThresholdTuner maintains the escalation threshold as an exponential moving
// average of observed overall scores, clamped to [2.0, 4.0]. Shared across
// requests; updates are atomic under the mutex.
type ThresholdTuner struct {
	mu      sync.Mutex
	current float64
}

// NewThresholdTuner starts at the default threshold of 3.0.
func NewThresholdTuner() *ThresholdTuner {
	return &ThresholdTuner{current: defaultClearThreshold}
}

// Current returns the active escalation threshold.
func (t *ThresholdTuner) Current() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Observe folds a new overall score into the running threshold.
// Zero scores (the audit-failure fallback) are ignored so a flaky backend
// cannot drag the threshold to its floor.
func (t *ThresholdTuner) Observe(overall float64) {
	if overall <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	next := t.current*(1-thresholdAlpha) + overall*thresholdAlpha
	t.current = math.Max(minClearThreshold, math.Min(maxClearThreshold, next))
}

// logScore emits the advisory audit outcome at debug level.
func logScore(log *slog.Logger, score ClearScore) {
	log.Debug("CLEAR audit",
		"clarity", score.Clarity,
		"leverage", score.Leverage,
		"efficiency", score.Efficiency,
		"alignment", score.Alignment,
		"resilience", score.Resilience,
		"overall", score.Overall)
}
