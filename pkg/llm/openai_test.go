package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUpstream is an OpenAI-compatible chat endpoint that fails for the
// models listed in failing and answers with content otherwise.
type fakeUpstream struct {
	failing map[string]bool
	content string
	calls   []string
}

func (f *fakeUpstream) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model          string `json:"model"`
			ResponseFormat *struct {
				Type string `json:"type"`
			} `json:"response_format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.calls = append(f.calls, req.Model)

		if f.failing[req.Model] {
			http.Error(w, `{"error":{"message":"model overloaded"}}`, http.StatusServiceUnavailable)
			return
		}

		resp := map[string]any{
			"id":      "resp-1",
			"model":   req.Model,
			"created": 1756166400,
			"choices": []map[string]any{
				{"message": map[string]string{"content": f.content}},
			},
			"usage": map[string]int{"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func newTestClient(t *testing.T, upstream *fakeUpstream, fallbackModel string) *OpenAIClient {
	t.Helper()
	ts := httptest.NewServer(upstream.handler())
	t.Cleanup(ts.Close)
	return NewOpenAIClient("test-key", ts.URL, fallbackModel, WithHTTPClient(ts.Client()))
}

func TestCompleteHappyPath(t *testing.T) {
	upstream := &fakeUpstream{content: "the answer"}
	client := newTestClient(t, upstream, "gpt-4o-mini")

	res, err := client.Complete(context.Background(), &CompletionRequest{
		Model:    "gpt-4o",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "the answer", res.Text)
	assert.Equal(t, "gpt-4o", res.Model)
	assert.False(t, res.FallbackUsed)
	assert.Equal(t, 10, res.Usage.TotalTokens)
	assert.Equal(t, []string{"gpt-4o"}, upstream.calls)
}

func TestCompleteFallsBackOnUpstreamError(t *testing.T) {
	upstream := &fakeUpstream{content: "fallback answer", failing: map[string]bool{"gpt-4o": true}}
	client := newTestClient(t, upstream, "gpt-4o-mini")

	res, err := client.Complete(context.Background(), &CompletionRequest{
		Model:    "gpt-4o",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, "gpt-4o-mini", res.Model)
	assert.Equal(t, []string{"gpt-4o", "gpt-4o-mini"}, upstream.calls)
}

func TestCompleteSurfacesUpstreamError(t *testing.T) {
	upstream := &fakeUpstream{failing: map[string]bool{"gpt-4o": true, "gpt-4o-mini": true}}
	client := newTestClient(t, upstream, "gpt-4o-mini")

	_, err := client.Complete(context.Background(), &CompletionRequest{
		Model:    "gpt-4o",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.Error(t, err)

	var upstreamErr *UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.Equal(t, http.StatusServiceUnavailable, upstreamErr.StatusCode)
}

func TestCompleteNoFallbackWhenPrimaryIsFallback(t *testing.T) {
	upstream := &fakeUpstream{failing: map[string]bool{"gpt-4o-mini": true}}
	client := newTestClient(t, upstream, "gpt-4o-mini")

	_, err := client.Complete(context.Background(), &CompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, []string{"gpt-4o-mini"}, upstream.calls, "no retry against the same model")
}

func TestCompleteStructuredRequiresJSON(t *testing.T) {
	schema := json.RawMessage(`{"type":"object"}`)

	t.Run("valid JSON content", func(t *testing.T) {
		upstream := &fakeUpstream{content: `{"final_answer":"ok"}`}
		client := newTestClient(t, upstream, "")
		res, err := client.CompleteStructured(context.Background(), &StructuredRequest{
			CompletionRequest: CompletionRequest{
				Model:    "gpt-4o",
				Messages: []Message{{Role: RoleUser, Content: "hi"}},
			},
			SchemaName: "reasoning_ledger",
			Schema:     schema,
		})
		require.NoError(t, err)
		assert.JSONEq(t, `{"final_answer":"ok"}`, string(res.Raw))
	})

	t.Run("prose content rejected", func(t *testing.T) {
		upstream := &fakeUpstream{content: "sorry, I cannot"}
		client := newTestClient(t, upstream, "")
		_, err := client.CompleteStructured(context.Background(), &StructuredRequest{
			CompletionRequest: CompletionRequest{
				Model:    "gpt-4o",
				Messages: []Message{{Role: RoleUser, Content: "hi"}},
			},
			SchemaName: "reasoning_ledger",
			Schema:     schema,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not valid JSON")
	})
}

func TestTranscribe(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		_, _ = w.Write([]byte(`{"text":"hello world"}`))
	}))
	defer ts.Close()

	client := NewOpenAIClient("test-key", ts.URL, "", WithHTTPClient(ts.Client()))
	res, err := client.Transcribe(context.Background(), &TranscriptionRequest{AudioBase64: "aGVsbG8="})
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Text)
	assert.Equal(t, "whisper-1", res.Model)
}

func TestTranscribeRejectsBadBase64(t *testing.T) {
	client := NewOpenAIClient("test-key", "http://localhost:0", "")
	_, err := client.Transcribe(context.Background(), &TranscriptionRequest{AudioBase64: "!!!"})
	assert.Error(t, err)
}
