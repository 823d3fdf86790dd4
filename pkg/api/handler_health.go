package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	echo "github.com/labstack/echo/v5"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"

	databaseConnected     = "connected"
	databaseNotConfigured = "not_configured"
	databaseError         = "error"
)

// pinger is implemented by stores backed by a live database connection.
type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler handles GET /api/health and GET /healthcheck. Only the
// gateway's own components are checked; the model backend is excluded so an
// upstream outage does not trigger orchestrator restarts.
func (s *Server) healthHandler(c *echo.Context) error {
	status := healthStatusHealthy
	database := databaseNotConfigured

	if p, ok := s.store.(pinger); ok {
		pingCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()
		if err := p.Ping(pingCtx); err != nil {
			database = databaseError
			status = healthStatusUnhealthy
		} else {
			database = databaseConnected
		}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, HealthResponse{
		Status:   status,
		Uptime:   time.Since(s.startedAt).Seconds(),
		Database: database,
		Memory: map[string]any{
			"allocBytes": mem.Alloc,
			"sysBytes":   mem.Sys,
			"numGC":      mem.NumGC,
		},
	})
}

// routeStatusHandler handles GET /api/route-status: drift and threshold
// telemetry for operators.
func (s *Server) routeStatusHandler(c *echo.Context) error {
	active := 0
	if s.ipcServer != nil {
		active = s.ipcServer.Registry().Count()
	}
	return c.JSON(http.StatusOK, RouteStatusResponse{
		Status:            "ok",
		MeanLatencyMs:     s.core.Drift().Mean().Milliseconds(),
		LatencySamples:    s.core.Drift().Count(),
		ClearThreshold:    s.core.Threshold(),
		ActiveConnections: active,
	})
}
