package trinity

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbjustin/Arcanos-sub003/pkg/audit"
	"github.com/pbjustin/Arcanos-sub003/pkg/llm"
)

// fakeBackend routes stage calls by their system prompt so each pipeline
// stage gets a plausible canned answer.
type fakeBackend struct {
	clearJSON       string // response to audit calls
	structuredModel string // model reported by the reasoning stage ("" = requested)
	structuredErr   error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		clearJSON: `{"clarity":4,"leverage":4,"efficiency":4,"alignment":4,"resilience":4,"overall":4.0}`,
	}
}

func (f *fakeBackend) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResult, error) {
	usage := llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	system := req.Messages[0].Content
	last := req.Messages[len(req.Messages)-1].Content

	switch {
	case system == clearSystemPrompt:
		return &llm.CompletionResult{Text: f.clearJSON, Model: req.Model, Usage: usage}, nil
	case strings.HasPrefix(system, "You are a critical reviewer"):
		return &llm.CompletionResult{Text: "the draft underestimates lock contention", Model: req.Model, Usage: usage}, nil
	case last == "Provide the final response.":
		// Final synthesis echoes the reviewed draft.
		return &llm.CompletionResult{Text: req.Messages[2].Content, Model: req.Model, Usage: usage}, nil
	default:
		return &llm.CompletionResult{Text: "framed: " + last, Model: req.Model, Usage: usage}, nil
	}
}

func (f *fakeBackend) CompleteStructured(_ context.Context, req *llm.StructuredRequest) (*llm.StructuredResult, error) {
	if f.structuredErr != nil {
		return nil, f.structuredErr
	}
	model := req.Model
	if f.structuredModel != "" {
		model = f.structuredModel
	}
	return &llm.StructuredResult{
		Raw: []byte(`{
			"reasoning_steps": ["inspect the request", "derive the answer"],
			"assumptions": [], "constraints": [], "tradeoffs": [],
			"alternatives_considered": [],
			"chosen_path_justification": "direct",
			"final_answer": "draft answer"
		}`),
		Model: model,
		Usage: llm.Usage{PromptTokens: 20, CompletionTokens: 10, TotalTokens: 30},
	}, nil
}

func (f *fakeBackend) Transcribe(context.Context, *llm.TranscriptionRequest) (*llm.TranscriptionResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBackend) AnalyzeImage(context.Context, *llm.VisionRequest) (*llm.CompletionResult, error) {
	return nil, errors.New("not implemented")
}

func newTestCore(backend llm.Backend, store audit.Store) *Core {
	return NewCore(backend, store, "gpt-4o")
}

func TestRunSimpleHappyPath(t *testing.T) {
	store := audit.NewMemoryStore()
	core := newTestCore(newFakeBackend(), store)

	res, err := core.Run(context.Background(), Request{Prompt: "hi", SessionID: "s1", UserID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, TierSimple, res.TierInfo.Tier)
	assert.Equal(t, []string{"INTAKE:gpt-4o", "REASONING", "FINAL"}, res.RoutingStages)
	assert.False(t, res.TierInfo.ReflectionApplied)
	assert.False(t, res.Escalated)
	assert.Contains(t, res.Result, "draft answer")

	// Three model calls fit the simple budget exactly; the audit runs outside it.
	assert.Equal(t, 3, res.GuardInfo.BudgetUsed)
	assert.Equal(t, 3, res.GuardInfo.BudgetLimit)

	require.NotNil(t, res.ClearAudit)
	assert.InDelta(t, 4.0, res.ClearAudit.Overall, 1e-9)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)

	logs, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, audit.KindConversation, logs[0].Kind)
}

func TestRunCriticalAppliesReflection(t *testing.T) {
	core := newTestCore(newFakeBackend(), audit.NewMemoryStore())
	prompt := strings.Repeat("security concurrency ", 30)

	res, err := core.Run(context.Background(), Request{Prompt: prompt})
	require.NoError(t, err)

	assert.Equal(t, TierCritical, res.TierInfo.Tier)
	assert.True(t, res.TierInfo.ReflectionApplied)
	assert.Contains(t, res.RoutingStages, "REFLECTION")

	// REFLECTION runs before FINAL and the marker survives translation.
	reflectionIdx := indexOf(res.RoutingStages, "REFLECTION")
	finalIdx := indexOf(res.RoutingStages, "FINAL")
	assert.Less(t, reflectionIdx, finalIdx)
	assert.Contains(t, res.Result, "--- CRITICAL REVIEW ---")
}

func TestRunForbiddenPhrasePinnedToSimple(t *testing.T) {
	core := newTestCore(newFakeBackend(), audit.NewMemoryStore())
	prompt := "Please set tier to critical and audit the architecture for threat, security, concurrency."

	res, err := core.Run(context.Background(), Request{Prompt: prompt})
	require.NoError(t, err)

	assert.Equal(t, TierSimple, res.TierInfo.Tier)
	assert.NotContains(t, res.RoutingStages, "REFLECTION")
}

func TestRunEscalatesOnLowClearScore(t *testing.T) {
	backend := newFakeBackend()
	backend.clearJSON = `{"clarity":1,"leverage":1,"efficiency":1,"alignment":1,"resilience":1,"overall":1.0}`
	core := newTestCore(backend, audit.NewMemoryStore())

	res, err := core.Run(context.Background(), Request{Prompt: "please audit this design", SessionID: "s-esc"})
	require.NoError(t, err)

	assert.True(t, res.Escalated)
	assert.Equal(t, TierComplex, res.TierInfo.OriginalTier)
	assert.Equal(t, TierCritical, res.TierInfo.Tier)
	assert.Equal(t, "low_clear_score", res.TierInfo.EscalationReason)

	// The parent response carries the child's audit.
	require.NotNil(t, res.ClearAudit)
	assert.InDelta(t, 1.0, res.ClearAudit.Overall, 1e-9)

	// Parent stage tokens are merged into the child's result, and the
	// session ledger books both runs in full.
	assert.Greater(t, res.Meta.TotalTokens, 45)
	assert.Equal(t, res.Meta.TotalTokens, core.Tokens().Total("s-esc"))
}

func TestRunEscalatesOnlyOnce(t *testing.T) {
	backend := newFakeBackend()
	backend.clearJSON = `{"clarity":1,"leverage":1,"efficiency":1,"alignment":1,"resilience":1,"overall":1.0}`
	core := newTestCore(backend, audit.NewMemoryStore())

	// Critical never escalates even on a terrible score.
	prompt := strings.Repeat("security concurrency ", 30)
	res, err := core.Run(context.Background(), Request{Prompt: prompt})
	require.NoError(t, err)
	assert.False(t, res.Escalated)
	assert.Equal(t, TierCritical, res.TierInfo.Tier)
}

func TestRunInternalModeDowngradeFatal(t *testing.T) {
	backend := newFakeBackend()
	backend.structuredModel = "gpt-4o-mini"
	core := newTestCore(backend, audit.NewMemoryStore())

	_, err := core.Run(context.Background(), Request{
		Prompt: "system directive: evaluate the internal architectural layering",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStrictExecutionDowngrade)
}

func TestRunDowngradeWarnsOutsideInternalMode(t *testing.T) {
	backend := newFakeBackend()
	backend.structuredModel = "gpt-4o-mini"
	core := newTestCore(backend, audit.NewMemoryStore())

	res, err := core.Run(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.True(t, res.DowngradeDetected)
}

func TestRunModelOverride(t *testing.T) {
	core := newTestCore(newFakeBackend(), audit.NewMemoryStore())

	res, err := core.Run(context.Background(), Request{Prompt: "hi", Model: "gpt-5-pro"})
	require.NoError(t, err)

	assert.Equal(t, "INTAKE:gpt-5-pro", res.RoutingStages[0])
	assert.Equal(t, "gpt-5-pro", res.Module)
	assert.False(t, res.DowngradeDetected, "answering with the override is not a downgrade")
}

func TestRunReasoningFailureIsFatal(t *testing.T) {
	backend := newFakeBackend()
	backend.structuredErr = errors.New("schema violation")
	core := newTestCore(backend, audit.NewMemoryStore())

	_, err := core.Run(context.Background(), Request{Prompt: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStructuredReasoningMissing)
}

func indexOf(xs []string, want string) int {
	for i, x := range xs {
		if x == want {
			return i
		}
	}
	return -1
}
