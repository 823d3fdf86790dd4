package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/pbjustin/Arcanos-sub003/pkg/audit"
	"github.com/pbjustin/Arcanos-sub003/pkg/auth"
	"github.com/pbjustin/Arcanos-sub003/pkg/ipc"
	"github.com/pbjustin/Arcanos-sub003/pkg/llm"
	"github.com/pbjustin/Arcanos-sub003/pkg/trinity"
)

// Error kinds surfaced in the response envelope.
const (
	kindValidation  = "ValidationFailure"
	kindAuthMissing = "AuthMissing"
	kindAuthReject  = "AuthRejected"
	kindForbidden   = "AuthForbidden"
	kindTooLarge    = "PayloadTooLarge"
	kindRateLimited = "RateLimited"
	kindUpstream    = "UpstreamUnavailable"
	kindPipeline    = "PipelineFailure"
	kindUndeliver   = "CommandUndeliverable"
	kindInternal    = "InternalError"
)

// respondError writes the uniform {error, message} envelope.
func respondError(c *echo.Context, status int, kind, message string) error {
	return c.JSON(status, ErrorResponse{Error: kind, Message: message})
}

// mapPipelineError converts an orchestrator failure into an HTTP response.
// In production mode the internal detail is redacted; the full error stays in
// the structured log, keyed by request id.
func (s *Server) mapPipelineError(c *echo.Context, requestID string, err error) error {
	kind := kindInternal
	status := http.StatusInternalServerError

	var upstream *llm.UpstreamError
	switch {
	case errors.Is(err, context.Canceled):
		slog.Info("Request cancelled by client", "request_id", requestID)
		return respondError(c, http.StatusInternalServerError, kindInternal, "request cancelled")
	case errors.Is(err, trinity.ErrBudgetExhausted):
		kind = "BudgetExhausted"
	case errors.Is(err, trinity.ErrDeadlineExceeded):
		kind = "DeadlineExceeded"
	case errors.Is(err, trinity.ErrStructuredReasoningMissing):
		kind = "StructuredReasoningMissing"
	case errors.Is(err, trinity.ErrStrictExecutionDowngrade):
		kind = "StrictExecutionDowngrade"
	case errors.As(err, &upstream):
		kind = kindUpstream
		status = http.StatusServiceUnavailable
	}

	slog.Error("Pipeline request failed",
		"request_id", requestID, "kind", kind, "error", err)

	message := err.Error()
	if s.cfg.Production {
		message = "internal server error"
	}
	return respondError(c, status, kind, message)
}

// mapAuthError converts credential failures to 401.
func mapAuthError(c *echo.Context, err error) error {
	if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrInvalidToken) {
		return respondError(c, http.StatusUnauthorized, kindAuthReject, "invalid credentials")
	}
	return respondError(c, http.StatusInternalServerError, kindInternal, "authentication unavailable")
}

// mapAuditError converts audit store failures.
func mapAuditError(c *echo.Context, err error) error {
	if errors.Is(err, audit.ErrInvalidLimit) {
		return respondError(c, http.StatusBadRequest, kindValidation, err.Error())
	}
	slog.Error("Audit query failed", "error", err)
	return respondError(c, http.StatusInternalServerError, kindUpstream, "audit store unavailable")
}

// mapDispatchError converts command dispatch validation failures.
func mapDispatchError(c *echo.Context, err error) error {
	if errors.Is(err, ipc.ErrEmptyCommand) || errors.Is(err, ipc.ErrCommandTooLong) {
		return respondError(c, http.StatusBadRequest, kindValidation, err.Error())
	}
	return respondError(c, http.StatusInternalServerError, kindInternal, "command dispatch failed")
}
