package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbjustin/Arcanos-sub003/pkg/audit"
	"github.com/pbjustin/Arcanos-sub003/pkg/config"
)

func testIPCConfig() config.IPCConfig {
	return config.IPCConfig{
		WSPath:              "/ws/daemon",
		HeartbeatInterval:   30 * time.Second,
		ClientTimeout:       90 * time.Second,
		MaxMessageSizeBytes: 1 << 20,
	}
}

// queryUserAuth admits peers as the user named in the ?user= query parameter.
func queryUserAuth(r *http.Request) (string, error) {
	user := r.URL.Query().Get("user")
	if user == "" {
		return "", errors.New("no user")
	}
	return user, nil
}

func startTestServer(t *testing.T, srv *Server) *httptest.Server {
	t.Helper()
	e := echo.New()
	e.GET("/ws/daemon", srv.HandleWS)
	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)
	return ts
}

func dialDaemon(t *testing.T, ts *httptest.Server, user string) (*websocket.Conn, *Message) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws/daemon?user=" + user
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })

	ack := readMessage(t, conn)
	require.Equal(t, TypeHelloAck, ack.Type)
	return conn, ack
}

func readMessage(t *testing.T, conn *websocket.Conn) *Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return &msg
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHandleWSRegistersAndAcks(t *testing.T) {
	registry := NewRegistry()
	srv := NewServer(testIPCConfig(), registry, queryUserAuth, audit.NewMemoryStore())
	ts := startTestServer(t, srv)

	_, ack := dialDaemon(t, ts, "userA")
	assert.NotEmpty(t, ack.ConnectionID)
	assert.NotEmpty(t, ack.ServerTime)
	assert.Contains(t, ack.ServerVersion, "arcanos")

	waitFor(t, func() bool { return registry.Count() == 1 })
	conn, ok := registry.Get(ack.ConnectionID)
	require.True(t, ok)
	assert.Equal(t, "userA", conn.UserID)
}

func TestHandleWSRejectsUnauthenticated(t *testing.T) {
	srv := NewServer(testIPCConfig(), NewRegistry(), queryUserAuth, audit.NewMemoryStore())
	ts := startTestServer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws/daemon"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err, "upgrade succeeds, close follows")
	defer conn.CloseNow()

	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestHelloPatchesMetadata(t *testing.T) {
	registry := NewRegistry()
	srv := NewServer(testIPCConfig(), registry, queryUserAuth, audit.NewMemoryStore())
	ts := startTestServer(t, srv)

	conn, ack := dialDaemon(t, ts, "userA")
	writeJSON(t, conn, Message{
		Type: TypeHello, ClientID: "daemon-7", InstanceID: "i-1",
		Platform: "linux", SentAt: time.Now().UTC().Format(time.RFC3339),
	})

	waitFor(t, func() bool {
		c, ok := registry.Get(ack.ConnectionID)
		return ok && c.Meta().ClientID == "daemon-7"
	})
	c, _ := registry.Get(ack.ConnectionID)
	assert.Equal(t, "linux", c.Meta().Platform)
	assert.Equal(t, "i-1", c.Meta().InstanceID)
}

func TestUnsupportedTypeGetsInBandError(t *testing.T) {
	srv := NewServer(testIPCConfig(), NewRegistry(), queryUserAuth, audit.NewMemoryStore())
	ts := startTestServer(t, srv)

	conn, _ := dialDaemon(t, ts, "userA")
	writeJSON(t, conn, map[string]string{"type": "subscribe"})

	reply := readMessage(t, conn)
	assert.Equal(t, TypeError, reply.Type)
	assert.Equal(t, CodeUnsupportedType, reply.Code)
	assert.Contains(t, reply.Message, "Unsupported IPC message type: subscribe")

	// The connection survives the rejection.
	writeJSON(t, conn, Message{Type: TypeHeartbeat, SentAt: time.Now().UTC().Format(time.RFC3339)})
}

func TestServerToClientTypesRejectedInbound(t *testing.T) {
	srv := NewServer(testIPCConfig(), NewRegistry(), queryUserAuth, audit.NewMemoryStore())
	ts := startTestServer(t, srv)

	conn, _ := dialDaemon(t, ts, "userA")

	// A daemon sending the server's own frame types gets an in-band error,
	// even though the frames are well-formed on the wire.
	writeJSON(t, conn, BuildCommand("cmd-1", "restart", map[string]any{}, time.Now()))
	reply := readMessage(t, conn)
	assert.Equal(t, TypeError, reply.Type)
	assert.Equal(t, CodeUnsupportedType, reply.Code)
	assert.Contains(t, reply.Message, "Unsupported IPC message type: command")

	writeJSON(t, conn, BuildHelloAck("c9", "daemon/1", time.Now()))
	reply = readMessage(t, conn)
	assert.Equal(t, CodeUnsupportedType, reply.Code)
	assert.Contains(t, reply.Message, "Unsupported IPC message type: hello_ack")

	// The connection survives both rejections.
	writeJSON(t, conn, Message{Type: TypeHeartbeat, SentAt: time.Now().UTC().Format(time.RFC3339)})
}

func TestEventForwardedToAuditLog(t *testing.T) {
	store := audit.NewMemoryStore()
	srv := NewServer(testIPCConfig(), NewRegistry(), queryUserAuth, store)
	ts := startTestServer(t, srv)

	conn, _ := dialDaemon(t, ts, "userA")
	writeJSON(t, conn, Message{
		Type: TypeEvent, EventType: "job.done", EventID: "e1",
		SentAt:  time.Now().UTC().Format(time.RFC3339),
		Payload: map[string]any{"jobId": 7},
	})

	waitFor(t, func() bool {
		logs, err := store.Recent(context.Background(), 10)
		return err == nil && len(logs) == 1
	})
	logs, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, audit.KindEvent, logs[0].Kind)
	assert.Equal(t, "job.done", logs[0].Summary)
}

func TestCommandFanoutPerUser(t *testing.T) {
	registry := NewRegistry()
	srv := NewServer(testIPCConfig(), registry, queryUserAuth, audit.NewMemoryStore())
	ts := startTestServer(t, srv)

	connA1, ackA1 := dialDaemon(t, ts, "userA")
	connA2, ackA2 := dialDaemon(t, ts, "userA")
	connB, _ := dialDaemon(t, ts, "userB")
	waitFor(t, func() bool { return registry.Count() == 3 })

	dispatcher := NewDispatcher(registry, nil)
	commandID, result, err := dispatcher.Dispatch(context.Background(), "userA", "restart", map[string]any{"force": true})
	require.NoError(t, err)
	require.True(t, result.OK)
	assert.NotEmpty(t, commandID)
	assert.Equal(t, 2, result.SentCount)
	assert.ElementsMatch(t, []string{ackA1.ConnectionID, ackA2.ConnectionID}, result.ConnectionIDs)

	for _, conn := range []*websocket.Conn{connA1, connA2} {
		msg := readMessage(t, conn)
		assert.Equal(t, TypeCommand, msg.Type)
		assert.Equal(t, commandID, msg.CommandID)
		assert.Equal(t, "restart", msg.Name)
	}

	// userB's socket receives nothing.
	shortCtx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, _, err = connB.Read(shortCtx)
	assert.Error(t, err, "no frame should arrive for userB")
}

func TestDispatchValidation(t *testing.T) {
	dispatcher := NewDispatcher(NewRegistry(), nil)

	_, _, err := dispatcher.Dispatch(context.Background(), "userA", "", nil)
	assert.ErrorIs(t, err, ErrEmptyCommand)

	_, _, err = dispatcher.Dispatch(context.Background(), "userA", strings.Repeat("x", 101), nil)
	assert.ErrorIs(t, err, ErrCommandTooLong)

	// No connections: validation passes, delivery fails.
	_, result, err := dispatcher.Dispatch(context.Background(), "userA", "restart", nil)
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.NotEmpty(t, result.Error)
}

func TestReaperRemovesStaleConnection(t *testing.T) {
	registry := NewRegistry()
	srv := NewServer(testIPCConfig(), registry, queryUserAuth, audit.NewMemoryStore())
	ts := startTestServer(t, srv)

	conn, ack := dialDaemon(t, ts, "userA")
	waitFor(t, func() bool { return registry.Count() == 1 })

	// Backdate liveness past the 90s client timeout.
	c, ok := registry.Get(ack.ConnectionID)
	require.True(t, ok)
	c.Touch(time.Now().Add(-120 * time.Second))

	srv.reapOnce()

	assert.Equal(t, 0, registry.Count())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Error(t, err, "socket should be closed by the reaper")
}

func TestShutdownClosesAllConnections(t *testing.T) {
	registry := NewRegistry()
	srv := NewServer(testIPCConfig(), registry, queryUserAuth, audit.NewMemoryStore())
	srv.StartReaper()
	ts := startTestServer(t, srv)

	conn, _ := dialDaemon(t, ts, "userA")
	waitFor(t, func() bool { return registry.Count() == 1 })

	srv.Shutdown()
	assert.Equal(t, 0, registry.Count())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}

func TestRegistryRegisterIdempotentByID(t *testing.T) {
	registry := NewRegistry()
	c := NewConnection("c1", "userA", nil, Metadata{})
	registry.Register(c)
	registry.Register(c)

	matches := 0
	for _, conn := range registry.List("") {
		if conn.ID == "c1" {
			matches++
		}
	}
	assert.Equal(t, 1, matches)

	registry.Remove("c1")
	registry.Remove("c1")
	assert.Equal(t, 0, registry.Count())
}
