package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// ErrUpstream wraps a non-2xx backend response.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("model backend returned %d: %s", e.StatusCode, e.Body)
}

// OpenAIClient talks to an OpenAI-compatible chat completion API.
// When the primary model fails with an upstream error, the call is retried
// once against the fallback model and FallbackUsed is set on the result.
type OpenAIClient struct {
	apiKey        string
	baseURL       string
	fallbackModel string
	httpClient    *http.Client
}

// Option configures an OpenAIClient.
type Option func(*OpenAIClient)

// WithHTTPClient overrides the underlying HTTP client (used by tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *OpenAIClient) { c.httpClient = hc }
}

// NewOpenAIClient creates a backend adapter against baseURL.
func NewOpenAIClient(apiKey, baseURL, fallbackModel string, opts ...Option) *OpenAIClient {
	c := &OpenAIClient{
		apiKey:        apiKey,
		baseURL:       strings.TrimRight(baseURL, "/"),
		fallbackModel: fallbackModel,
		httpClient:    &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// --- wire types ---

type chatRequest struct {
	Model           string          `json:"model"`
	Messages        []Message       `json:"messages"`
	Temperature     *float64        `json:"temperature,omitempty"`
	MaxTokens       int             `json:"max_completion_tokens,omitempty"`
	ReasoningEffort string          `json:"reasoning_effort,omitempty"`
	ResponseFormat  *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *jsonSchema `json:"json_schema,omitempty"`
}

type jsonSchema struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Complete implements Backend.
func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error) {
	body := chatRequest{
		Model:           req.Model,
		Messages:        req.Messages,
		Temperature:     &req.Temperature,
		MaxTokens:       req.MaxTokens,
		ReasoningEffort: req.ReasoningEffort,
	}
	resp, fallback, err := c.postChatWithFallback(ctx, body)
	if err != nil {
		return nil, err
	}
	return completionResult(resp, fallback), nil
}

// CompleteStructured implements Backend. The response content must be valid
// JSON; anything else is returned as an error to the caller.
func (c *OpenAIClient) CompleteStructured(ctx context.Context, req *StructuredRequest) (*StructuredResult, error) {
	body := chatRequest{
		Model:           req.Model,
		Messages:        req.Messages,
		Temperature:     &req.Temperature,
		MaxTokens:       req.MaxTokens,
		ReasoningEffort: req.ReasoningEffort,
		ResponseFormat: &responseFormat{
			Type:       "json_schema",
			JSONSchema: &jsonSchema{Name: req.SchemaName, Strict: true, Schema: req.Schema},
		},
	}
	resp, fallback, err := c.postChatWithFallback(ctx, body)
	if err != nil {
		return nil, err
	}
	content := firstContent(resp)
	if !json.Valid([]byte(content)) {
		return nil, fmt.Errorf("schema-constrained response is not valid JSON (model %s)", resp.Model)
	}
	return &StructuredResult{
		Raw:          json.RawMessage(content),
		Model:        resp.Model,
		FallbackUsed: fallback,
		Usage:        resp.Usage,
		ResponseID:   resp.ID,
		Created:      time.Unix(resp.Created, 0),
	}, nil
}

// Transcribe implements Backend via the audio transcription endpoint.
func (c *OpenAIClient) Transcribe(ctx context.Context, req *TranscriptionRequest) (*TranscriptionResult, error) {
	audio, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("decoding audio payload: %w", err)
	}

	model := req.Model
	if model == "" {
		model = "whisper-1"
	}
	filename := req.Filename
	if filename == "" {
		filename = "audio.webm"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, err
	}
	_ = mw.WriteField("model", model)
	if req.Language != "" {
		_ = mw.WriteField("language", req.Language)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, readUpstreamError(resp)
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding transcription response: %w", err)
	}
	return &TranscriptionResult{Text: parsed.Text, Model: model}, nil
}

// AnalyzeImage implements Backend using a vision-capable chat completion.
func (c *OpenAIClient) AnalyzeImage(ctx context.Context, req *VisionRequest) (*CompletionResult, error) {
	prompt := req.Prompt
	if prompt == "" {
		prompt = "Describe this image."
	}

	// Vision messages use the multi-part content encoding, so this call
	// bypasses the shared chatRequest type.
	payload := map[string]any{
		"model": req.Model,
		"messages": []map[string]any{{
			"role": RoleUser,
			"content": []map[string]any{
				{"type": "text", "text": prompt},
				{"type": "image_url", "image_url": map[string]string{
					"url": "data:image/png;base64," + req.ImageBase64,
				}},
			},
		}},
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		payload["max_completion_tokens"] = req.MaxTokens
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, readUpstreamError(resp)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding vision response: %w", err)
	}
	return completionResult(&parsed, false), nil
}

// --- helpers ---

// postChatWithFallback tries the requested model, then retries once with the
// fallback model on upstream failure. Context cancellation is never retried.
func (c *OpenAIClient) postChatWithFallback(ctx context.Context, body chatRequest) (*chatResponse, bool, error) {
	resp, err := c.doChat(ctx, body)
	if err == nil {
		return resp, false, nil
	}
	if ctx.Err() != nil || c.fallbackModel == "" || body.Model == c.fallbackModel {
		return nil, false, err
	}

	slog.Warn("Primary model failed, retrying with fallback",
		"model", body.Model, "fallback", c.fallbackModel, "error", err)
	body.Model = c.fallbackModel
	body.ReasoningEffort = "" // fallback models may not accept effort hints
	resp, fbErr := c.doChat(ctx, body)
	if fbErr != nil {
		return nil, false, fmt.Errorf("fallback model also failed: %w (primary: %v)", fbErr, err)
	}
	return resp, true, nil
}

func (c *OpenAIClient) doChat(ctx context.Context, body chatRequest) (*chatResponse, error) {
	httpResp, err := c.postChat(ctx, body)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("chat response has no choices (model %s)", body.Model)
	}
	return &parsed, nil
}

func (c *OpenAIClient) postChat(ctx context.Context, body chatRequest) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readUpstreamError(resp)
	}
	return resp, nil
}

func readUpstreamError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func firstContent(resp *chatResponse) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Message.Content
}

func completionResult(resp *chatResponse, fallback bool) *CompletionResult {
	return &CompletionResult{
		Text:         firstContent(resp),
		Model:        resp.Model,
		FallbackUsed: fallback,
		Usage:        resp.Usage,
		ResponseID:   resp.ID,
		Created:      time.Unix(resp.Created, 0),
	}
}
