package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// sendTimeout bounds a single outbound frame write.
const sendTimeout = 5 * time.Second

// Metadata is the optional per-connection identity patched by hello frames
// and the accept handshake.
type Metadata struct {
	ClientID    string `json:"clientId,omitempty"`
	InstanceID  string `json:"instanceId,omitempty"`
	Platform    string `json:"platform,omitempty"`
	IPAddress   string `json:"ipAddress,omitempty"`
	UserAgent   string `json:"userAgent,omitempty"`
	DaemonGPTID string `json:"daemonGptId,omitempty"`
}

// Connection is one registered daemon socket. Writes are serialized through
// the connection's own mutex; registry locks are never held across a write.
type Connection struct {
	ID          string
	UserID      string
	ConnectedAt time.Time

	mu         sync.Mutex
	conn       *websocket.Conn
	meta       Metadata
	lastSeenAt time.Time
	closed     bool
}

// NewConnection wraps an accepted socket.
func NewConnection(id, userID string, conn *websocket.Conn, meta Metadata) *Connection {
	now := time.Now()
	return &Connection{
		ID:          id,
		UserID:      userID,
		ConnectedAt: now,
		conn:        conn,
		meta:        meta,
		lastSeenAt:  now,
	}
}

// Touch advances the liveness timestamp.
func (c *Connection) Touch(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeenAt = now
}

// LastSeen returns the liveness timestamp.
func (c *Connection) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeenAt
}

// Meta returns a copy of the connection metadata.
func (c *Connection) Meta() Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta
}

// PatchMeta merges non-empty fields from a hello frame into the metadata.
func (c *Connection) PatchMeta(clientID, instanceID, platform string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if clientID != "" {
		c.meta.ClientID = clientID
	}
	if instanceID != "" {
		c.meta.InstanceID = instanceID
	}
	if platform != "" {
		c.meta.Platform = platform
	}
}

// markClosed flags the connection so later sends are skipped. The websocket
// library exposes no state accessor, so the registry tracks it.
func (c *Connection) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// IsOpen reports whether the connection is still usable for sends.
func (c *Connection) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// writeRaw sends one pre-serialized text frame.
func (c *Connection) writeRaw(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	writeCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := c.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		c.closed = true
		return err
	}
	return nil
}

// ping sends a websocket ping and treats the pong as liveness.
func (c *Connection) ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := c.conn.Ping(pingCtx); err != nil {
		return err
	}
	c.Touch(time.Now())
	return nil
}

// close terminates the socket with the given code.
func (c *Connection) close(code websocket.StatusCode, reason string) {
	c.markClosed()
	_ = c.conn.Close(code, reason)
}

// DispatchResult reports a per-user command fan-out.
type DispatchResult struct {
	OK            bool     `json:"ok"`
	SentCount     int      `json:"sentCount"`
	ConnectionIDs []string `json:"connectionIds"`
	Error         string   `json:"error,omitempty"`
}

// Registry is the thread-safe set of active daemon connections.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{connections: make(map[string]*Connection)}
}

// Register adds a connection. Re-registering the same ID replaces the entry.
func (r *Registry) Register(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[conn.ID] = conn
}

// Remove deletes a connection by ID. Removing an unknown ID is a no-op.
func (r *Registry) Remove(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connections, connectionID)
}

// Get looks up a connection by ID.
func (r *Registry) Get(connectionID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[connectionID]
	return conn, ok
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// List returns a snapshot of all connections, optionally filtered by user.
func (r *Registry) List(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		if userID != "" && conn.UserID != userID {
			continue
		}
		out = append(out, conn)
	}
	return out
}

// Touch advances the liveness timestamp for a connection.
func (r *Registry) Touch(connectionID string, now time.Time) {
	if conn, ok := r.Get(connectionID); ok {
		conn.Touch(now)
	}
}

// SendMessageToConnection serializes and sends one message to one
// connection. It returns false when the connection is unknown, closed, or
// the write fails.
func (r *Registry) SendMessageToConnection(ctx context.Context, connectionID string, msg *Message) bool {
	conn, ok := r.Get(connectionID)
	if !ok {
		return false
	}
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to serialize IPC message", "error", err)
		return false
	}
	if err := conn.writeRaw(ctx, data); err != nil {
		slog.Warn("IPC send failed", "connection_id", connectionID, "error", err)
		return false
	}
	return true
}

// SendCommandToUser fans a command out to every open connection of a user.
// The message is serialized once; delivery is best-effort and partial success
// counts as success.
func (r *Registry) SendCommandToUser(ctx context.Context, userID string, cmd *Message) DispatchResult {
	data, err := json.Marshal(cmd)
	if err != nil {
		return DispatchResult{Error: "failed to serialize command"}
	}

	targets := r.List(userID)
	if len(targets) == 0 {
		return DispatchResult{Error: "no active connections for user"}
	}

	result := DispatchResult{ConnectionIDs: make([]string, 0, len(targets))}
	for _, conn := range targets {
		if !conn.IsOpen() {
			continue
		}
		if err := conn.writeRaw(ctx, data); err != nil {
			slog.Warn("Command delivery failed",
				"connection_id", conn.ID, "user_id", userID, "error", err)
			continue
		}
		result.SentCount++
		result.ConnectionIDs = append(result.ConnectionIDs, conn.ID)
	}
	if result.SentCount == 0 {
		result.Error = "command not delivered to any connection"
		return result
	}
	result.OK = true
	return result
}
