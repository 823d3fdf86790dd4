package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/pbjustin/Arcanos-sub003/pkg/audit"
)

// updateHandler handles POST /api/update. Client-pushed state updates are
// size-capped and recorded in the audit log as events.
func (s *Server) updateHandler(c *echo.Context) error {
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, kindValidation, "invalid request body")
	}
	if strings.TrimSpace(req.UpdateType) == "" {
		return respondError(c, http.StatusBadRequest, kindValidation, "updateType is required")
	}

	serialized, err := json.Marshal(req.Data)
	if err != nil {
		return respondError(c, http.StatusBadRequest, kindValidation, "data must be serializable")
	}
	if len(serialized) > maxUpdateDataBytes {
		return respondError(c, http.StatusRequestEntityTooLarge, kindTooLarge,
			fmt.Sprintf("data exceeds %d bytes", maxUpdateDataBytes))
	}

	if err := s.store.AppendEvent(c.Request().Context(), audit.EventRecord{
		EventType: "update:" + req.UpdateType,
		UserID:    s.currentUser(c),
		Payload:   req.Data,
	}); err != nil {
		return mapAuditError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
