// Package api exposes the gateway's HTTP surface: the reasoning endpoint,
// authentication, audit queries, daemon command dispatch, media endpoints,
// and health reporting.
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pbjustin/Arcanos-sub003/pkg/audit"
	"github.com/pbjustin/Arcanos-sub003/pkg/auth"
	"github.com/pbjustin/Arcanos-sub003/pkg/config"
	"github.com/pbjustin/Arcanos-sub003/pkg/ipc"
	"github.com/pbjustin/Arcanos-sub003/pkg/llm"
	"github.com/pbjustin/Arcanos-sub003/pkg/trinity"
)

// Server is the HTTP server wiring the pipeline, IPC bridge, and stores
// behind the REST surface.
type Server struct {
	cfg        *config.Config
	core       *trinity.Core
	backend    llm.Backend
	store      audit.Store
	issuer     *auth.TokenIssuer
	verifier   *auth.PasswordVerifier
	ipcServer  *ipc.Server
	dispatcher *ipc.Dispatcher

	echo       *echo.Echo
	httpServer *http.Server
	startedAt  time.Time
}

// NewServer creates the HTTP server and registers all routes. The verifier
// and issuer may be nil when login is not configured; the login endpoint then
// returns 500.
func NewServer(cfg *config.Config, core *trinity.Core, backend llm.Backend, store audit.Store,
	issuer *auth.TokenIssuer, verifier *auth.PasswordVerifier,
	ipcServer *ipc.Server, dispatcher *ipc.Dispatcher) *Server {

	s := &Server{
		cfg:        cfg,
		core:       core,
		backend:    backend,
		store:      store,
		issuer:     issuer,
		verifier:   verifier,
		ipcServer:  ipcServer,
		dispatcher: dispatcher,
		echo:       echo.New(),
		startedAt:  time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	e := s.echo
	e.Use(securityHeaders())
	e.Use(corsMiddleware(s.cfg.AllowedOrigins))
	e.Use(rateLimitMiddleware(newRateLimiter(s.cfg.RateLimit)))

	// Open endpoints.
	e.GET("/api/health", s.healthHandler)
	e.GET("/healthcheck", s.healthHandler)
	e.GET("/api/route-status", s.routeStatusHandler)
	e.GET("/metrics", s.metricsHandler)
	e.POST("/api/auth/login", s.loginHandler)

	// Daemon WebSocket endpoint (auth happens inside the upgrade flow).
	if s.ipcServer != nil {
		e.GET(s.cfg.IPC.WSPath, s.ipcServer.HandleWS)
	}

	// Authenticated endpoints.
	protected := e.Group("/api")
	protected.Use(s.requireAuth())
	protected.POST("/ask", s.askHandler)
	protected.POST("/update", s.updateHandler)
	protected.GET("/audit", s.auditHandler)
	protected.POST("/daemon/command", s.commandHandler)
	protected.POST("/transcribe", s.transcribeHandler)
	protected.POST("/vision", s.visionHandler)
}

// metricsHandler serves the Prometheus scrape endpoint.
func (s *Server) metricsHandler(c *echo.Context) error {
	promhttp.Handler().ServeHTTP(c.Response(), c.Request())
	return nil
}

// Start begins serving on addr. Blocks until the listener closes.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }
