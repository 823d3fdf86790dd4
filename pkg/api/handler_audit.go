package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"
)

// defaultAuditLimit applies when the limit query parameter is absent.
const defaultAuditLimit = 20

// auditHandler handles GET /api/audit?limit=. The store enforces the 1..100
// bounds; zero and negative values are rejected with 400.
func (s *Server) auditHandler(c *echo.Context) error {
	limit := defaultAuditLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return respondError(c, http.StatusBadRequest, kindValidation, "limit must be an integer")
		}
		limit = parsed
	}

	logs, err := s.store.Recent(c.Request().Context(), limit)
	if err != nil {
		return mapAuditError(c, err)
	}
	return c.JSON(http.StatusOK, AuditResponse{Logs: logs, Count: len(logs)})
}
