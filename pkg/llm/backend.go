// Package llm is the model backend adapter. It provides a uniform call
// surface for chat completion, schema-constrained reasoning, transcription,
// and vision over an OpenAI-compatible REST API.
package llm

import (
	"context"
	"encoding/json"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption for a single backend call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionRequest describes a chat completion call.
type CompletionRequest struct {
	Model           string
	Messages        []Message
	Temperature     float64
	MaxTokens       int
	ReasoningEffort string // "high" for complex/critical reasoning, empty otherwise
}

// CompletionResult is the uniform result envelope for completion-shaped calls.
type CompletionResult struct {
	Text         string
	Model        string // the model that actually answered
	FallbackUsed bool   // true when the fallback model answered
	Usage        Usage
	ResponseID   string
	Created      time.Time
}

// StructuredRequest describes a schema-constrained completion call. The
// backend is instructed to emit JSON conforming to Schema; a response that
// does not parse is an error, not a retry loop.
type StructuredRequest struct {
	CompletionRequest
	SchemaName string
	Schema     json.RawMessage
}

// StructuredResult carries the raw schema-constrained JSON plus call metadata.
type StructuredResult struct {
	Raw          json.RawMessage
	Model        string
	FallbackUsed bool
	Usage        Usage
	ResponseID   string
	Created      time.Time
}

// TranscriptionRequest describes an audio transcription call.
type TranscriptionRequest struct {
	AudioBase64 string
	Model       string
	Filename    string
	Language    string
}

// TranscriptionResult is the transcribed text plus the model used.
type TranscriptionResult struct {
	Text  string
	Model string
}

// VisionRequest describes an image analysis call.
type VisionRequest struct {
	ImageBase64 string
	Prompt      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Backend is the model backend call surface consumed by the Trinity pipeline
// and the media endpoints. All calls are cancel-aware via ctx; in-flight
// requests are aborted on cancellation.
type Backend interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error)
	CompleteStructured(ctx context.Context, req *StructuredRequest) (*StructuredResult, error)
	Transcribe(ctx context.Context, req *TranscriptionRequest) (*TranscriptionResult, error)
	AnalyzeImage(ctx context.Context, req *VisionRequest) (*CompletionResult, error)
}
