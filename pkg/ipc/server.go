package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/pbjustin/Arcanos-sub003/pkg/audit"
	"github.com/pbjustin/Arcanos-sub003/pkg/auth"
	"github.com/pbjustin/Arcanos-sub003/pkg/config"
	"github.com/pbjustin/Arcanos-sub003/pkg/metrics"
	"github.com/pbjustin/Arcanos-sub003/pkg/version"
)

// AuthFunc authenticates an upgrade request and returns the peer's user ID.
type AuthFunc func(r *http.Request) (string, error)

// EventCallback receives validated event frames. It is treated as untrusted:
// panics are recovered and logged, and it runs outside the registry locks.
type EventCallback func(conn *Connection, msg *Message)

// ResultCallback receives command_result frames.
type ResultCallback func(conn *Connection, msg *Message)

// Server owns the daemon WebSocket endpoint: accept, auth, per-connection
// receive loops, and the shared reaper.
type Server struct {
	cfg      config.IPCConfig
	registry *Registry
	authFn   AuthFunc
	store    audit.Store
	metrics  *metrics.Metrics

	onEvent  EventCallback
	onResult ResultCallback

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	now      func() time.Time
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithEventCallback sets the event frame callback.
func WithEventCallback(cb EventCallback) ServerOption {
	return func(s *Server) { s.onEvent = cb }
}

// WithResultCallback sets the command_result frame callback.
func WithResultCallback(cb ResultCallback) ServerOption {
	return func(s *Server) { s.onResult = cb }
}

// WithServerMetrics attaches Prometheus collectors.
func WithServerMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates the IPC server. The audit store receives event frames;
// it may be nil in tests.
func NewServer(cfg config.IPCConfig, registry *Registry, authFn AuthFunc, store audit.Store, opts ...ServerOption) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		authFn:   authFn,
		store:    store,
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry exposes the connection registry for the command dispatcher.
func (s *Server) Registry() *Registry { return s.registry }

// HandleWS is the echo handler for the daemon WebSocket path. It upgrades,
// authenticates, registers the connection, sends hello_ack, and blocks in
// the receive loop until the socket closes.
func (s *Server) HandleWS(c *echo.Context) error {
	req := c.Request()

	// Best-effort daemon identity header. Invalid values warn, never block.
	daemonGPTID := strings.TrimSpace(req.Header.Get(s.cfg.DaemonGPTIDHeader))
	if len(daemonGPTID) > 256 {
		slog.Warn("Oversized daemon id header ignored", "length", len(daemonGPTID))
		daemonGPTID = ""
	}

	conn, err := websocket.Accept(c.Response(), req, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}
	conn.SetReadLimit(s.cfg.MaxMessageSizeBytes)

	userID, err := s.authFn(req)
	if err != nil {
		slog.Warn("IPC auth rejected", "error", err, "remote", req.RemoteAddr)
		_ = conn.Close(websocket.StatusPolicyViolation, "Unauthorized")
		return nil
	}

	connection := NewConnection(uuid.New().String(), userID, conn, Metadata{
		IPAddress:   req.RemoteAddr,
		UserAgent:   req.Header.Get("User-Agent"),
		DaemonGPTID: daemonGPTID,
	})
	s.registry.Register(connection)
	if s.metrics != nil {
		s.metrics.IPCConnections.Inc()
	}
	slog.Info("Daemon connected",
		"connection_id", connection.ID, "user_id", userID)

	defer func() {
		s.registry.Remove(connection.ID)
		connection.close(websocket.StatusNormalClosure, "")
		if s.metrics != nil {
			s.metrics.IPCConnections.Dec()
		}
		slog.Info("Daemon disconnected", "connection_id", connection.ID)
	}()

	ctx := req.Context()
	ack := BuildHelloAck(connection.ID, version.Full(), s.now())
	if !s.registry.SendMessageToConnection(ctx, connection.ID, ack) {
		return nil
	}

	s.receiveLoop(ctx, connection, conn)
	return nil
}

// receiveLoop processes inbound frames until the connection closes.
func (s *Server) receiveLoop(ctx context.Context, connection *Connection, conn *websocket.Conn) {
	log := slog.With("connection_id", connection.ID)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		msg, perr := Parse(data)
		if perr != nil {
			code := CodeInvalidMessage
			var pe *ParseError
			if errors.As(perr, &pe) {
				code = pe.Code
			}
			log.Warn("Rejected IPC frame", "code", code, "reason", perr.Error())
			s.registry.SendMessageToConnection(ctx, connection.ID,
				BuildError(code, perr.Error(), s.now()))
			continue
		}

		connection.Touch(s.now())
		if s.metrics != nil {
			s.metrics.IPCMessagesTotal.WithLabelValues(msg.Type).Inc()
		}

		switch msg.Type {
		case TypeHello:
			connection.PatchMeta(msg.ClientID, msg.InstanceID, msg.Platform)
			log.Info("Daemon hello", "client_id", msg.ClientID, "platform", msg.Platform)

		case TypeHeartbeat:
			// Touch above is the whole effect.

		case TypeEvent:
			s.handleEvent(ctx, connection, msg, log)

		case TypeCommandResult:
			if s.onResult != nil {
				s.invokeCallback(log, "command_result", func() {
					s.onResult(connection, msg)
				})
			}

		case TypeError:
			log.Warn("Daemon reported error", "message", msg.Message)

		case TypeCommand, TypeHelloAck:
			// Server-to-client types are valid on the wire but never
			// accepted inbound.
			log.Warn("Rejected server-to-client frame from daemon", "type", msg.Type)
			s.registry.SendMessageToConnection(ctx, connection.ID,
				BuildError(CodeUnsupportedType,
					fmt.Sprintf("Unsupported IPC message type: %s", msg.Type), s.now()))
		}
	}
}

// handleEvent forwards an event frame to the audit log and the callback.
func (s *Server) handleEvent(ctx context.Context, connection *Connection, msg *Message, log *slog.Logger) {
	if s.store != nil {
		if err := s.store.AppendEvent(ctx, audit.EventRecord{
			ID:           msg.EventID,
			EventType:    msg.EventType,
			UserID:       connection.UserID,
			ConnectionID: connection.ID,
			Payload:      msg.Payload,
		}); err != nil {
			log.Warn("Event audit append failed", "event_id", msg.EventID, "error", err)
		}
	}
	if s.onEvent != nil {
		s.invokeCallback(log, "event", func() {
			s.onEvent(connection, msg)
		})
	}
}

// invokeCallback runs a user-supplied callback, containing panics.
func (s *Server) invokeCallback(log *slog.Logger, kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("IPC callback panicked", "kind", kind, "panic", r)
		}
	}()
	fn()
}

// StartReaper launches the shared stale-connection sweeper. One tick per
// heartbeat interval: stale connections are force-closed and removed, live
// ones are pinged (the pong advances lastSeen).
func (s *Server) StartReaper() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.reapOnce()
			}
		}
	}()
}

// reapOnce sweeps the registry snapshot once.
func (s *Server) reapOnce() {
	now := s.now()
	for _, conn := range s.registry.List("") {
		if now.Sub(conn.LastSeen()) > s.cfg.ClientTimeout {
			slog.Info("Reaping stale daemon connection",
				"connection_id", conn.ID, "last_seen", conn.LastSeen())
			conn.close(websocket.StatusGoingAway, "connection timed out")
			s.registry.Remove(conn.ID)
			if s.metrics != nil {
				s.metrics.IPCReapedTotal.Inc()
				s.metrics.IPCConnections.Dec()
			}
			continue
		}
		go func(c *Connection) {
			pingCtx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()
			if err := c.ping(pingCtx); err != nil {
				slog.Warn("Ping failed", "connection_id", c.ID, "error", err)
			}
		}(conn)
	}
}

// Shutdown stops the reaper and closes every connection with code 1001.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()

	for _, conn := range s.registry.List("") {
		conn.close(websocket.StatusGoingAway, "Server shutting down")
		s.registry.Remove(conn.ID)
	}
	slog.Info("IPC server stopped")
}

// JWTAuth builds an AuthFunc that accepts a bearer token from the
// Authorization header or a ?token= query parameter.
func JWTAuth(issuer *auth.TokenIssuer) AuthFunc {
	return func(r *http.Request) (string, error) {
		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if token == "" {
			token = strings.TrimSpace(r.URL.Query().Get("token"))
		}
		if token == "" {
			return "", auth.ErrInvalidToken
		}
		claims, err := issuer.Verify(token)
		if err != nil {
			return "", err
		}
		return claims.UserID, nil
	}
}

// APIKeyAuth builds an AuthFunc that compares the configured header value in
// constant time. All keys map to the configured user (anonymous fallback).
func APIKeyAuth(cfg *config.Config) AuthFunc {
	return func(r *http.Request) (string, error) {
		presented := auth.StripKeyPrefix(r.Header.Get(cfg.APIKeyHeader), cfg.APIKeyPrefix)
		if !auth.CheckAPIKey(presented, cfg.APIKey) {
			return "", auth.ErrInvalidToken
		}
		return cfg.AnonymousUserID, nil
	}
}

// NoAuth builds an AuthFunc that admits every peer as the anonymous user.
func NoAuth(anonymousUserID string) AuthFunc {
	return func(_ *http.Request) (string, error) {
		return anonymousUserID, nil
	}
}

// AuthForConfig selects the AuthFunc matching the configured mode.
func AuthForConfig(cfg *config.Config, issuer *auth.TokenIssuer) AuthFunc {
	switch cfg.AuthMode {
	case config.AuthModeJWT:
		return JWTAuth(issuer)
	case config.AuthModeAPIKey:
		return APIKeyAuth(cfg)
	default:
		return NoAuth(cfg.AnonymousUserID)
	}
}

