package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/pbjustin/Arcanos-sub003/pkg/auth"
	"github.com/pbjustin/Arcanos-sub003/pkg/config"
)

// userIDKey is the echo context key carrying the authenticated user.
const userIDKey = "userID"

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

// corsMiddleware applies the origin policy. An empty allowlist means every
// origin is accepted without credentials; a configured allowlist requires an
// exact match and enables credentialed requests.
func corsMiddleware(allowedOrigins []string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			origin := c.Request().Header.Get("Origin")
			h := c.Response().Header()

			if len(allowed) == 0 {
				h.Set("Access-Control-Allow-Origin", "*")
			} else if allowed[origin] {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Api-Key")

			if c.Request().Method == http.MethodOptions {
				return c.NoContent(http.StatusNoContent)
			}
			return next(c)
		}
	}
}

// rateLimiter is a per-client sliding window limiter. Timestamps older than
// the window are pruned on each check.
type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	clients map[string][]time.Time
	now     func() time.Time
}

func newRateLimiter(cfg config.RateLimitConfig) *rateLimiter {
	return &rateLimiter{
		window:  cfg.Window,
		max:     cfg.MaxRequests,
		clients: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// allow records one request for the client and reports whether it fits the
// window.
func (rl *rateLimiter) allow(clientID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)
	stamps := rl.clients[clientID]
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= rl.max {
		rl.clients[clientID] = kept
		return false
	}
	rl.clients[clientID] = append(kept, now)
	return true
}

// rateLimitMiddleware rejects clients that exceed the sliding window.
func rateLimitMiddleware(rl *rateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if !rl.allow(c.RealIP()) {
				return respondError(c, http.StatusTooManyRequests, kindRateLimited,
					"rate limit exceeded, retry later")
			}
			return next(c)
		}
	}
}

// requireAuth resolves the caller identity per the configured mode and stores
// it in the request context. Open endpoints skip this middleware entirely.
func (s *Server) requireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if !s.cfg.AuthRequired || s.cfg.AuthMode == config.AuthModeNone {
				c.Set(userIDKey, s.cfg.AnonymousUserID)
				return next(c)
			}

			switch s.cfg.AuthMode {
			case config.AuthModeJWT:
				token := bearerToken(c.Request())
				if token == "" {
					return respondError(c, http.StatusUnauthorized, kindAuthMissing, "missing bearer token")
				}
				claims, err := s.issuer.Verify(token)
				if err != nil {
					return respondError(c, http.StatusUnauthorized, kindAuthReject, "invalid token")
				}
				c.Set(userIDKey, claims.UserID)

			case config.AuthModeAPIKey:
				presented := auth.StripKeyPrefix(c.Request().Header.Get(s.cfg.APIKeyHeader), s.cfg.APIKeyPrefix)
				if presented == "" {
					return respondError(c, http.StatusUnauthorized, kindAuthMissing, "missing api key")
				}
				if !auth.CheckAPIKey(presented, s.cfg.APIKey) {
					return respondError(c, http.StatusUnauthorized, kindAuthReject, "invalid api key")
				}
				c.Set(userIDKey, s.cfg.AnonymousUserID)
			}
			return next(c)
		}
	}
}

// currentUser returns the authenticated user ID set by requireAuth.
func (s *Server) currentUser(c *echo.Context) string {
	if id, ok := c.Get(userIDKey).(string); ok && id != "" {
		return id
	}
	return s.cfg.AnonymousUserID
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
