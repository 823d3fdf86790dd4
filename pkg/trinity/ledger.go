package trinity

import "encoding/json"

// ReasoningLedger is the schema-constrained output of the reasoning stage.
// A request that completes the reasoning stage always has a non-nil ledger;
// a nil ledger is a fatal error, not a recoverable state.
type ReasoningLedger struct {
	Steps         []string `json:"reasoning_steps"`
	Assumptions   []string `json:"assumptions"`
	Constraints   []string `json:"constraints"`
	Tradeoffs     []string `json:"tradeoffs"`
	Alternatives  []string `json:"alternatives_considered"`
	Justification string   `json:"chosen_path_justification"`
	FinalAnswer   string   `json:"final_answer"`
}

// reasoningSchema is the fixed JSON schema sent to the backend for
// schema-constrained decoding of the ledger.
var reasoningSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "reasoning_steps": {"type": "array", "items": {"type": "string"}},
    "assumptions": {"type": "array", "items": {"type": "string"}},
    "constraints": {"type": "array", "items": {"type": "string"}},
    "tradeoffs": {"type": "array", "items": {"type": "string"}},
    "alternatives_considered": {"type": "array", "items": {"type": "string"}},
    "chosen_path_justification": {"type": "string"},
    "final_answer": {"type": "string"}
  },
  "required": [
    "reasoning_steps",
    "assumptions",
    "constraints",
    "tradeoffs",
    "alternatives_considered",
    "chosen_path_justification",
    "final_answer"
  ],
  "additionalProperties": false
}`)

// ClearScore holds the five advisory quality axes, each clamped to [0,5].
type ClearScore struct {
	Clarity    float64 `json:"clarity"`
	Leverage   float64 `json:"leverage"`
	Efficiency float64 `json:"efficiency"`
	Alignment  float64 `json:"alignment"`
	Resilience float64 `json:"resilience"`
	Overall    float64 `json:"overall"`
}

// clamp bounds a score axis to [0,5]. Idempotent.
func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 5 {
		return 5
	}
	return v
}

// Normalize clamps every axis and recomputes Overall as the arithmetic mean
// when the model returned zero for it.
func (s *ClearScore) Normalize() {
	s.Clarity = clamp(s.Clarity)
	s.Leverage = clamp(s.Leverage)
	s.Efficiency = clamp(s.Efficiency)
	s.Alignment = clamp(s.Alignment)
	s.Resilience = clamp(s.Resilience)
	if s.Overall == 0 {
		s.Overall = (s.Clarity + s.Leverage + s.Efficiency + s.Alignment + s.Resilience) / 5
	}
	s.Overall = clamp(s.Overall)
}
