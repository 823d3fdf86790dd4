package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/pbjustin/Arcanos-sub003/pkg/trinity"
)

// sseChunkSize bounds the delta size when streaming a synthesized answer.
const sseChunkSize = 80

// askHandler handles POST /api/ask: validate, run the pipeline, and respond
// either as a JSON envelope or as an SSE delta stream.
func (s *Server) askHandler(c *echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, kindValidation, "invalid request body")
	}

	prompt, memoryContext, verr, status := buildPrompt(&req)
	if verr != "" {
		kind := kindValidation
		if status == http.StatusRequestEntityTooLarge {
			kind = kindTooLarge
		}
		return respondError(c, status, kind, verr)
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return respondError(c, http.StatusBadRequest, kindValidation, "temperature must be between 0.0 and 2.0")
	}

	requestID := uuid.New().String()
	result, err := s.core.Run(c.Request().Context(), trinity.Request{
		RequestID:     requestID,
		SessionID:     req.SessionID,
		UserID:        s.currentUser(c),
		Prompt:        prompt,
		MemoryContext: memoryContext,
		Domain:        req.Domain,
		Model:         req.Model,
		Temperature:   req.Temperature,
	})
	if err != nil {
		return s.mapPipelineError(c, requestID, err)
	}

	if req.Stream {
		return s.streamResult(c, result)
	}
	return c.JSON(http.StatusOK, result)
}

// streamResult replays the synthesized answer as an SSE delta stream followed
// by the [DONE] terminator.
func (s *Server) streamResult(c *echo.Context, result *trinity.Result) error {
	resp := c.Response()
	rc := http.NewResponseController(resp)
	h := resp.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	text := []rune(result.Result)
	for start := 0; start < len(text); start += sseChunkSize {
		end := start + sseChunkSize
		if end > len(text) {
			end = len(text)
		}
		payload, err := json.Marshal(map[string]string{"delta": string(text[start:end])})
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(resp, "data: %s\n\n", payload); err != nil {
			return err
		}
		rc.Flush()
	}

	if _, err := fmt.Fprint(resp, "data: [DONE]\n\n"); err != nil {
		return err
	}
	rc.Flush()
	return nil
}

// buildPrompt validates the conversation shape and splits it into the active
// prompt and the memory context. On failure the error string is non-empty and
// status carries the HTTP code: 413 for size-cap violations, 400 for
// everything else.
func buildPrompt(req *AskRequest) (prompt, memoryContext, errMsg string, status int) {
	if len(req.Messages) == 0 {
		prompt = strings.TrimSpace(req.Message)
		if prompt == "" {
			return "", "", "either message or messages must be provided", http.StatusBadRequest
		}
		if len(prompt) > maxMessageChars {
			return "", "", fmt.Sprintf("message exceeds %d characters", maxMessageChars),
				http.StatusRequestEntityTooLarge
		}
		return prompt, "", "", http.StatusOK
	}

	if len(req.Messages) > maxMessages {
		return "", "", fmt.Sprintf("at most %d messages are allowed", maxMessages), http.StatusBadRequest
	}

	total := 0
	lastUser := -1
	for i, msg := range req.Messages {
		switch msg.Role {
		case "user", "assistant", "system":
		default:
			return "", "", fmt.Sprintf("unsupported message role %q", msg.Role), http.StatusBadRequest
		}
		if len(msg.Content) > maxMessageChars {
			return "", "", fmt.Sprintf("message %d exceeds %d characters", i, maxMessageChars),
				http.StatusRequestEntityTooLarge
		}
		total += len(msg.Content)
		if msg.Role == "user" {
			lastUser = i
		}
	}
	if total > maxTotalChars {
		return "", "", fmt.Sprintf("conversation exceeds %d characters", maxTotalChars),
			http.StatusRequestEntityTooLarge
	}
	if lastUser == -1 {
		return "", "", "conversation must contain a user message", http.StatusBadRequest
	}

	prompt = strings.TrimSpace(req.Messages[lastUser].Content)
	if prompt == "" {
		return "", "", "user message must not be empty", http.StatusBadRequest
	}

	var history []string
	for i, msg := range req.Messages {
		if i == lastUser {
			continue
		}
		history = append(history, msg.Role+": "+msg.Content)
	}
	return prompt, strings.Join(history, "\n"), "", http.StatusOK
}
