package trinity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pbjustin/Arcanos-sub003/pkg/audit"
	"github.com/pbjustin/Arcanos-sub003/pkg/llm"
	"github.com/pbjustin/Arcanos-sub003/pkg/metrics"
	"github.com/pbjustin/Arcanos-sub003/pkg/session"
)

// escalationWatchdogMargin is the minimum remaining watchdog budget required
// before a request may escalate.
const escalationWatchdogMargin = 5 * time.Second

// escalationReason is the only recognized reason for self-recursion.
const escalationReason = "low_clear_score"

const defaultSystemPrompt = `You are Arcanos, a careful reasoning assistant. Answer the user's request
directly and completely. Never reveal internal routing or audit mechanics.`

const internalSystemPrompt = `You are Arcanos running in internal-architectural mode. Respond with precise,
technical analysis. Clarification questions are disabled: answer with the
information given. Never reveal internal routing or audit mechanics.`

// internalModeMarkers switch the orchestrator into internal-architectural
// mode, where model downgrades are fatal.
var internalModeMarkers = []string{
	"system directive",
	"internal",
	"evaluate",
	"architectural",
}

// Request is one prompt submitted to the pipeline.
type Request struct {
	RequestID     string
	SessionID     string
	UserID        string
	Prompt        string
	MemoryContext string
	Domain        string

	// Model overrides the configured reasoning model for this request.
	Model string

	// Temperature overrides the domain-derived sampling temperature.
	Temperature *float64

	// Escalation bookkeeping, set only by the orchestrator itself.
	forcedTier   Tier
	escalated    bool
	originalTier Tier
}

// TierInfo is the tier telemetry block of a result.
type TierInfo struct {
	Tier              Tier   `json:"tier"`
	OriginalTier      Tier   `json:"originalTier,omitempty"`
	ReflectionApplied bool   `json:"reflectionApplied"`
	EscalationReason  string `json:"escalationReason,omitempty"`
}

// GuardInfo is the budget/watchdog telemetry block of a result.
type GuardInfo struct {
	BudgetUsed  int   `json:"budgetUsed"`
	BudgetLimit int   `json:"budgetLimit"`
	ElapsedMs   int64 `json:"elapsedMs"`
	LimitMs     int64 `json:"limitMs"`
}

// Meta carries token usage and backend response identity.
type Meta struct {
	PromptTokens     int       `json:"promptTokens"`
	CompletionTokens int       `json:"completionTokens"`
	TotalTokens      int       `json:"totalTokens"`
	ResponseID       string    `json:"responseId,omitempty"`
	Created          time.Time `json:"created"`
}

// Result is the synthesized answer plus full telemetry.
type Result struct {
	Result            string      `json:"result"`
	Module            string      `json:"module"`
	RoutingStages     []string    `json:"routingStages"`
	TierInfo          TierInfo    `json:"tierInfo"`
	GuardInfo         GuardInfo   `json:"guardInfo"`
	FallbackSummary   []string    `json:"fallbackSummary,omitempty"`
	ClearAudit        *ClearScore `json:"clearAudit,omitempty"`
	Confidence        float64     `json:"confidence"`
	Escalated         bool        `json:"escalated"`
	DowngradeDetected bool        `json:"downgradeDetected"`
	Meta              Meta        `json:"meta"`
}

// Core owns the process-scoped pipeline state: admission gates, drift
// monitor, token accounting, and the CLEAR threshold. It is constructed once
// at startup and passed to handlers; there are no package-level singletons.
type Core struct {
	stages     *Stages
	auditor    *Auditor
	tuner      *ThresholdTuner
	translator *Translator
	admission  *Admission
	drift      *LatencyMonitor
	tokens     *session.TokenRepository
	store      audit.Store
	metrics    *metrics.Metrics
	model      string
	auditOn    bool
}

// CoreOption configures a Core.
type CoreOption func(*Core)

// WithAudit toggles the CLEAR audit and escalation path. Disabling it yields
// the legacy straight-through pipeline used by internal callers.
func WithAudit(on bool) CoreOption {
	return func(c *Core) { c.auditOn = on }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) CoreOption {
	return func(c *Core) { c.metrics = m }
}

// WithAdmission overrides the per-tier admission gates (used by tests).
func WithAdmission(a *Admission) CoreOption {
	return func(c *Core) { c.admission = a }
}

// NewCore wires the pipeline against a model backend and audit store.
func NewCore(backend llm.Backend, store audit.Store, model string, opts ...CoreOption) *Core {
	c := &Core{
		stages:     NewStages(backend),
		auditor:    NewAuditor(backend, model),
		tuner:      NewThresholdTuner(),
		translator: NewTranslator(),
		admission:  NewAdmission(),
		drift:      NewLatencyMonitor(),
		tokens:     session.NewTokenRepository(),
		store:      store,
		model:      model,
		auditOn:    true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Drift exposes the latency monitor for status endpoints.
func (c *Core) Drift() *LatencyMonitor { return c.drift }

// Tokens exposes the session token repository.
func (c *Core) Tokens() *session.TokenRepository { return c.tokens }

// Threshold exposes the current CLEAR escalation threshold.
func (c *Core) Threshold() float64 { return c.tuner.Current() }

// Run executes the full pipeline for one request:
//
//	CLASSIFY → ADMIT → INTAKE → REASONING → (critical? REFLECTION) →
//	AUDIT → escalate? → FINAL → TRANSLATE → PERSIST → telemetry
//
// Escalation is single-hop: an escalated request never escalates again.
func (c *Core) Run(ctx context.Context, req Request) (*Result, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	log := slog.With("request_id", req.RequestID)
	start := time.Now()

	// CLASSIFY
	var tier Tier
	if req.escalated {
		tier = req.forcedTier
	} else {
		cls := Classify(req.Prompt)
		tier = cls.Tier
		if cls.ForbiddenPhrase != "" {
			log.Warn("Forbidden phrase in prompt, tier pinned to simple",
				"phrase", cls.ForbiddenPhrase)
		}
	}
	internalMode := isInternalMode(req.Prompt)
	systemPrompt := defaultSystemPrompt
	if internalMode {
		systemPrompt = internalSystemPrompt
	}
	temperature := TemperatureForDomain(req.Domain)
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	auditSafePrompt := strings.TrimSpace(req.Prompt)
	requestedModel := c.model
	if req.Model != "" {
		requestedModel = req.Model
	}

	// ADMIT. The release handle fires on every exit path; escalation
	// releases explicitly before recursing.
	release, err := c.admission.Acquire(ctx, tier)
	if err != nil {
		c.emitTelemetry(log, req, tier, nil, 0, false, false, start, "cancelled")
		return nil, err
	}
	defer release()

	var escalatedFrom Tier
	if req.escalated {
		escalatedFrom = req.originalTier
	}
	rb := NewRuntimeBudget(tier, escalatedFrom)
	res := &Result{
		Module:   requestedModel,
		TierInfo: TierInfo{Tier: tier},
	}

	// Token usage accumulated across every stage of this request.
	var used llm.Usage
	addUsage := func(u llm.Usage) {
		used.PromptTokens += u.PromptTokens
		used.CompletionTokens += u.CompletionTokens
		used.TotalTokens += u.TotalTokens
	}

	fail := func(stage string, err error) (*Result, error) {
		outcome := "failed"
		if ctx.Err() != nil {
			outcome = "cancelled"
		}
		c.emitTelemetry(log, req, tier, rb, 0, false, res.TierInfo.ReflectionApplied, start, outcome)
		return nil, fmt.Errorf("%s: %w", stage, err)
	}

	// INTAKE
	framed, intakeMeta, err := c.stages.Intake(ctx, rb, requestedModel, systemPrompt, auditSafePrompt, req.MemoryContext, temperature)
	if err != nil {
		return fail("intake", err)
	}
	res.RoutingStages = append(res.RoutingStages, "INTAKE:"+intakeMeta.Model)
	c.noteFallback(res, "intake", intakeMeta.FallbackUsed)
	addUsage(intakeMeta.Usage)

	// REASONING
	ledger, reasoningMeta, err := c.stages.Reasoning(ctx, rb, tier, requestedModel, systemPrompt, framed, temperature)
	if err != nil {
		return fail("reasoning", err)
	}
	res.RoutingStages = append(res.RoutingStages, "REASONING")
	c.noteFallback(res, "reasoning", reasoningMeta.FallbackUsed)
	addUsage(reasoningMeta.Usage)

	// Downgrade detection: strict string comparison of the requested
	// reasoning model against the model that actually reasoned.
	if reasoningMeta.Model != "" && reasoningMeta.Model != requestedModel {
		res.DowngradeDetected = true
		if c.metrics != nil {
			c.metrics.DowngradesTotal.Inc()
		}
		if internalMode {
			return fail("reasoning", fmt.Errorf("%w: requested %s, active %s",
				ErrStrictExecutionDowngrade, requestedModel, reasoningMeta.Model))
		}
		log.Warn("Model downgrade detected",
			"requested", requestedModel, "active", reasoningMeta.Model)
	}

	draft := ledger.FinalAnswer
	if draft == "" {
		draft = strings.Join(ledger.Steps, "\n")
	}

	// REFLECTION (critical only, non-fatal)
	if tier == TierCritical {
		critiqued, reflectMeta, rerr := c.stages.Reflection(ctx, rb, requestedModel, draft)
		if rerr != nil {
			if IsFatal(rerr) {
				return fail("reflection", rerr)
			}
			log.Warn("Reflection failed, continuing without augmentation", "error", rerr)
		} else {
			draft = critiqued
			res.TierInfo.ReflectionApplied = true
			res.RoutingStages = append(res.RoutingStages, "REFLECTION")
			c.noteFallback(res, "reflection", reflectMeta.FallbackUsed)
			addUsage(reflectMeta.Usage)
		}
	}

	// AUDIT (advisory, outside the invocation budget)
	if c.auditOn {
		score, aerr := c.auditor.Score(ctx, ledger)
		if aerr != nil {
			log.Warn("CLEAR audit failed, using zero fallback", "error", aerr)
		} else {
			logScore(log, score)
			c.tuner.Observe(score.Overall)
		}
		res.ClearAudit = &score
		res.Confidence = score.Overall / 5

		// ESCALATE: single hop, release before re-acquiring.
		if c.shouldEscalate(req, tier, ledger, score, rb) {
			release()
			if c.metrics != nil {
				c.metrics.EscalationsTotal.Inc()
			}
			log.Info("Escalating on low CLEAR score",
				"overall", score.Overall, "threshold", c.tuner.Current(),
				"from", tier, "to", tier.Next())

			c.emitTelemetry(log, req, tier, rb, used.TotalTokens, res.DowngradeDetected, res.TierInfo.ReflectionApplied, start, "escalated")

			child := req
			child.escalated = true
			child.forcedTier = tier.Next()
			child.originalTier = tier

			childRes, cerr := c.Run(ctx, child)
			if cerr != nil {
				return nil, cerr
			}
			childRes.Escalated = true
			childRes.TierInfo.OriginalTier = tier
			childRes.TierInfo.EscalationReason = escalationReason
			childRes.Meta.PromptTokens += used.PromptTokens
			childRes.Meta.CompletionTokens += used.CompletionTokens
			childRes.Meta.TotalTokens += used.TotalTokens
			// The child run only booked its own stages against the
			// session ledger; the parent's stages count too.
			c.tokens.Add(req.SessionID, used.TotalTokens)
			return childRes, nil
		}
	}

	// FINAL
	finalText, finalMeta, err := c.stages.Final(ctx, rb, requestedModel, systemPrompt, auditSafePrompt, draft, temperature)
	if err != nil {
		return fail("final", err)
	}
	res.RoutingStages = append(res.RoutingStages, "FINAL")
	c.noteFallback(res, "final", finalMeta.FallbackUsed)
	res.Module = finalMeta.Model

	// TRANSLATE
	intent := DetectIntent(req.Prompt)
	res.Result = c.translator.Translate(intent, finalText)

	// Post-execution guards.
	addUsage(finalMeta.Usage)
	totalTokens := used.TotalTokens
	res.Meta = Meta{
		PromptTokens:     used.PromptTokens,
		CompletionTokens: used.CompletionTokens,
		TotalTokens:      totalTokens,
		ResponseID:       finalMeta.ResponseID,
		Created:          finalMeta.Created,
	}
	res.GuardInfo = GuardInfo{
		BudgetUsed:  rb.Budget.Used(),
		BudgetLimit: rb.Budget.Limit(),
		ElapsedMs:   rb.Watchdog.Elapsed().Milliseconds(),
		LimitMs:     rb.Watchdog.Limit().Milliseconds(),
	}
	if req.escalated {
		res.TierInfo.OriginalTier = req.originalTier
	}
	c.tokens.Add(req.SessionID, totalTokens)
	c.drift.Observe(time.Since(start))

	// PERSIST (advisory; skipped when the request was cancelled)
	if ctx.Err() == nil && c.store != nil {
		if perr := c.store.AppendConversation(ctx, audit.ConversationRecord{
			SessionID:   req.SessionID,
			UserID:      req.UserID,
			Prompt:      auditSafePrompt,
			Response:    res.Result,
			Tier:        string(tier),
			TotalTokens: totalTokens,
			Meta: map[string]any{
				"requestId":  req.RequestID,
				"responseId": res.Meta.ResponseID,
				"escalated":  req.escalated,
			},
		}); perr != nil {
			log.Warn("Audit append failed", "error", perr)
		}
	}

	c.emitTelemetry(log, req, tier, rb, totalTokens, res.DowngradeDetected, res.TierInfo.ReflectionApplied, start, "completed")
	return res, nil
}

// shouldEscalate applies the escalation policy: ledger present, low score,
// headroom on the watchdog, not critical, not already escalated.
func (c *Core) shouldEscalate(req Request, tier Tier, ledger *ReasoningLedger, score ClearScore, rb *RuntimeBudget) bool {
	return ledger != nil &&
		score.Overall < c.tuner.Current() &&
		tier != TierCritical &&
		!req.escalated &&
		rb.Watchdog.Remaining() > escalationWatchdogMargin
}

func (c *Core) noteFallback(res *Result, stage string, used bool) {
	if !used {
		return
	}
	res.FallbackSummary = append(res.FallbackSummary, stage)
	if c.metrics != nil {
		c.metrics.StageFallbacks.WithLabelValues(stage).Inc()
	}
}

// emitTelemetry records the per-request telemetry line and metrics. It runs
// on every exit path, including cancellation.
func (c *Core) emitTelemetry(log *slog.Logger, req Request, tier Tier, rb *RuntimeBudget, totalTokens int, downgrade, reflection bool, start time.Time, outcome string) {
	latency := time.Since(start)
	budgetUsed := 0
	if rb != nil {
		budgetUsed = rb.Budget.Used()
	}
	log.Info("Pipeline telemetry",
		"tier", tier,
		"total_tokens", totalTokens,
		"budget_used", budgetUsed,
		"downgrade_detected", downgrade,
		"latency_ms", latency.Milliseconds(),
		"reflection_applied", reflection,
		"outcome", outcome)
	if c.metrics != nil {
		c.metrics.RequestsTotal.WithLabelValues(string(tier), outcome).Inc()
		c.metrics.RequestLatency.WithLabelValues(string(tier)).Observe(latency.Seconds())
		if totalTokens > 0 {
			c.metrics.TokensTotal.Add(float64(totalTokens))
		}
	}
}

// isInternalMode reports whether the raw prompt requests the
// internal-architectural pipeline.
func isInternalMode(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, marker := range internalModeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
