package api

import (
	"time"

	"github.com/pbjustin/Arcanos-sub003/pkg/audit"
)

// ErrorResponse is the envelope returned on every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// LoginResponse is the /api/auth/login success body.
type LoginResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"tokenType"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserID    string    `json:"userId"`
}

// AuditResponse is the /api/audit success body.
type AuditResponse struct {
	Logs  []audit.LogEntry `json:"logs"`
	Count int              `json:"count"`
}

// CommandResponse is the /api/daemon/command success body.
type CommandResponse struct {
	CommandID            string   `json:"commandId"`
	DeliveredConnections []string `json:"deliveredConnections"`
}

// TranscribeResponse is the /api/transcribe success body.
type TranscribeResponse struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

// VisionResponse is the /api/vision success body.
type VisionResponse struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

// HealthResponse is the /api/health body.
type HealthResponse struct {
	Status   string         `json:"status"`
	Uptime   float64        `json:"uptime"`
	Database string         `json:"database"`
	Memory   map[string]any `json:"memory"`
}

// RouteStatusResponse is the /api/route-status body.
type RouteStatusResponse struct {
	Status            string  `json:"status"`
	MeanLatencyMs     int64   `json:"meanLatencyMs"`
	LatencySamples    int     `json:"latencySamples"`
	ClearThreshold    float64 `json:"clearThreshold"`
	ActiveConnections int     `json:"activeConnections"`
}
