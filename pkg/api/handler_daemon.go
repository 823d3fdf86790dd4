package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// commandHandler handles POST /api/daemon/command: fan a command out to every
// open daemon connection of the target user. Delivery is best-effort; partial
// success is success.
func (s *Server) commandHandler(c *echo.Context) error {
	var req CommandRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, kindValidation, "invalid request body")
	}

	requester := s.currentUser(c)
	target := req.TargetUserID
	if target == "" {
		target = requester
	}
	if target != requester {
		return respondError(c, http.StatusForbidden, kindForbidden,
			"cannot dispatch commands to another user")
	}

	commandID, result, err := s.dispatcher.Dispatch(c.Request().Context(), target, req.Command, req.Payload)
	if err != nil {
		return mapDispatchError(c, err)
	}
	if !result.OK {
		return respondError(c, http.StatusServiceUnavailable, kindUndeliver, result.Error)
	}

	return c.JSON(http.StatusAccepted, CommandResponse{
		CommandID:            commandID,
		DeliveredConnections: result.ConnectionIDs,
	})
}
