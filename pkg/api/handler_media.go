package api

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/pbjustin/Arcanos-sub003/pkg/llm"
)

// transcribeHandler handles POST /api/transcribe.
func (s *Server) transcribeHandler(c *echo.Context) error {
	var req TranscribeRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, kindValidation, "invalid request body")
	}
	if req.AudioBase64 == "" {
		return respondError(c, http.StatusBadRequest, kindValidation, "audioBase64 is required")
	}
	if len(req.AudioBase64) > maxMediaBase64Chars {
		return respondError(c, http.StatusBadRequest, kindValidation,
			fmt.Sprintf("audioBase64 exceeds %d characters", maxMediaBase64Chars))
	}
	if _, err := base64.StdEncoding.DecodeString(req.AudioBase64); err != nil {
		return respondError(c, http.StatusBadRequest, kindValidation, "audioBase64 is not valid base64")
	}

	result, err := s.backend.Transcribe(c.Request().Context(), &llm.TranscriptionRequest{
		AudioBase64: req.AudioBase64,
		Model:       req.Model,
		Filename:    req.Filename,
		Language:    req.Language,
	})
	if err != nil {
		return mapUpstreamError(c, "transcription", err)
	}
	return c.JSON(http.StatusOK, TranscribeResponse{Text: result.Text, Model: result.Model})
}

// visionHandler handles POST /api/vision.
func (s *Server) visionHandler(c *echo.Context) error {
	var req VisionRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, kindValidation, "invalid request body")
	}
	if req.ImageBase64 == "" {
		return respondError(c, http.StatusBadRequest, kindValidation, "imageBase64 is required")
	}
	if len(req.ImageBase64) > maxMediaBase64Chars {
		return respondError(c, http.StatusRequestEntityTooLarge, kindTooLarge,
			fmt.Sprintf("imageBase64 exceeds %d characters", maxMediaBase64Chars))
	}
	if _, err := base64.StdEncoding.DecodeString(req.ImageBase64); err != nil {
		return respondError(c, http.StatusBadRequest, kindValidation, "imageBase64 is not valid base64")
	}

	temperature := 0.2
	if req.Temperature != nil {
		if *req.Temperature < 0 || *req.Temperature > 2 {
			return respondError(c, http.StatusBadRequest, kindValidation, "temperature must be between 0.0 and 2.0")
		}
		temperature = *req.Temperature
	}

	result, err := s.backend.AnalyzeImage(c.Request().Context(), &llm.VisionRequest{
		ImageBase64: req.ImageBase64,
		Prompt:      req.Prompt,
		Model:       req.Model,
		Temperature: temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return mapUpstreamError(c, "vision", err)
	}
	return c.JSON(http.StatusOK, VisionResponse{Text: result.Text, Model: result.Model})
}

// mapUpstreamError converts a model backend failure on a media endpoint.
func mapUpstreamError(c *echo.Context, operation string, err error) error {
	var upstream *llm.UpstreamError
	slog.Error("Media operation failed", "operation", operation, "error", err)
	if errors.As(err, &upstream) {
		return respondError(c, http.StatusServiceUnavailable, kindUpstream, "model backend unavailable")
	}
	return respondError(c, http.StatusInternalServerError, kindInternal, operation+" failed")
}
