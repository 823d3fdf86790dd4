package api

import (
	"net/http"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/pbjustin/Arcanos-sub003/pkg/auth"
)

// loginHandler handles POST /api/auth/login. Credentials are checked against
// the environment-configured operator account; every failure path returns the
// same 401 so the response does not reveal which check failed.
func (s *Server) loginHandler(c *echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, kindValidation, "invalid request body")
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return respondError(c, http.StatusBadRequest, kindValidation, "email and password are required")
	}
	if s.verifier == nil || s.issuer == nil {
		return respondError(c, http.StatusInternalServerError, kindInternal, "login is not configured")
	}

	if err := s.verifier.Verify(req.Email, req.Password); err != nil {
		return mapAuthError(c, err)
	}

	userID := strings.ToLower(strings.TrimSpace(req.Email))
	token, err := s.issuer.Issue(userID, userID)
	if err != nil {
		return respondError(c, http.StatusInternalServerError, kindInternal, "failed to issue token")
	}

	return c.JSON(http.StatusOK, LoginResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: time.Now().Add(auth.TokenTTL),
		UserID:    userID,
	})
}
