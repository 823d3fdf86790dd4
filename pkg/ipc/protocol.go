// Package ipc implements the WebSocket bridge between the gateway and its
// daemon peers: wire protocol, connection registry, server lifecycle, and
// command dispatch.
package ipc

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Wire message types.
const (
	TypeHello         = "hello"
	TypeHelloAck      = "hello_ack"
	TypeHeartbeat     = "heartbeat"
	TypeEvent         = "event"
	TypeCommand       = "command"
	TypeCommandResult = "command_result"
	TypeError         = "error"
)

// Error codes carried in error frames.
const (
	CodeInvalidJSON     = "invalid_json"
	CodeInvalidMessage  = "invalid_message"
	CodeUnsupportedType = "unsupported_type"
)

// Message is the tagged union carried on the wire. Fields not belonging to a
// variant are left empty and omitted on encode.
type Message struct {
	Type string `json:"type"`

	// hello
	ClientID   string `json:"clientId,omitempty"`
	InstanceID string `json:"instanceId,omitempty"`
	Platform   string `json:"platform,omitempty"`

	// hello_ack
	ConnectionID  string `json:"connectionId,omitempty"`
	ServerTime    string `json:"serverTime,omitempty"`
	ServerVersion string `json:"serverVersion,omitempty"`

	// event
	EventType string `json:"eventType,omitempty"`
	EventID   string `json:"eventId,omitempty"`

	// command / command_result
	CommandID   string `json:"commandId,omitempty"`
	Name        string `json:"name,omitempty"`
	IssuedAt    string `json:"issuedAt,omitempty"`
	OK          *bool  `json:"ok,omitempty"`
	RespondedAt string `json:"respondedAt,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// shared
	SentAt  string         `json:"sentAt,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ParseError distinguishes malformed JSON from schema violations so the
// server can pick the right error code.
type ParseError struct {
	Code   string
	Reason string
}

func (e *ParseError) Error() string { return e.Reason }

// Parse decodes and validates one frame of any of the seven wire types.
// String fields are trimmed before the required-field checks; a payload, when
// present, must be a plain JSON object. Direction is not Parse's concern: the
// server rejects server-to-client types arriving inbound.
func Parse(data []byte) (*Message, error) {
	var probe struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &ParseError{Code: CodeInvalidJSON, Reason: "malformed JSON frame"}
	}
	if len(probe.Payload) > 0 && !isJSONObject(probe.Payload) {
		return nil, &ParseError{Code: CodeInvalidMessage, Reason: "payload must be a JSON object"}
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &ParseError{Code: CodeInvalidMessage, Reason: "frame does not match message schema"}
	}
	trimFields(&msg)

	switch msg.Type {
	case TypeHello:
		if err := requireFields(map[string]string{
			"clientId": msg.ClientID,
			"sentAt":   msg.SentAt,
		}); err != nil {
			return nil, err
		}
	case TypeHeartbeat:
		if err := requireFields(map[string]string{"sentAt": msg.SentAt}); err != nil {
			return nil, err
		}
	case TypeEvent:
		if err := requireFields(map[string]string{
			"eventType": msg.EventType,
			"eventId":   msg.EventID,
			"sentAt":    msg.SentAt,
		}); err != nil {
			return nil, err
		}
		if msg.Payload == nil {
			return nil, &ParseError{Code: CodeInvalidMessage, Reason: "event requires a payload object"}
		}
	case TypeHelloAck:
		if err := requireFields(map[string]string{
			"connectionId": msg.ConnectionID,
			"serverTime":   msg.ServerTime,
		}); err != nil {
			return nil, err
		}
	case TypeCommand:
		if err := requireFields(map[string]string{
			"commandId": msg.CommandID,
			"name":      msg.Name,
			"issuedAt":  msg.IssuedAt,
		}); err != nil {
			return nil, err
		}
	case TypeCommandResult:
		if err := requireFields(map[string]string{
			"commandId":   msg.CommandID,
			"respondedAt": msg.RespondedAt,
		}); err != nil {
			return nil, err
		}
		if msg.OK == nil {
			return nil, &ParseError{Code: CodeInvalidMessage, Reason: "command_result requires ok"}
		}
	case TypeError:
		if err := requireFields(map[string]string{
			"message": msg.Message,
			"sentAt":  msg.SentAt,
		}); err != nil {
			return nil, err
		}
	case "":
		return nil, &ParseError{Code: CodeInvalidMessage, Reason: "missing message type"}
	default:
		return nil, &ParseError{
			Code:   CodeUnsupportedType,
			Reason: fmt.Sprintf("Unsupported IPC message type: %s", msg.Type),
		}
	}
	return &msg, nil
}

// BuildHelloAck constructs the first server frame for a new connection.
func BuildHelloAck(connectionID, serverVersion string, now time.Time) *Message {
	return &Message{
		Type:          TypeHelloAck,
		ConnectionID:  connectionID,
		ServerTime:    now.UTC().Format(time.RFC3339),
		ServerVersion: serverVersion,
	}
}

// BuildCommand constructs an outbound command frame.
func BuildCommand(commandID, name string, payload map[string]any, now time.Time) *Message {
	return &Message{
		Type:      TypeCommand,
		CommandID: commandID,
		Name:      name,
		IssuedAt:  now.UTC().Format(time.RFC3339),
		Payload:   payload,
	}
}

// BuildError constructs an outbound error frame.
func BuildError(code, message string, now time.Time) *Message {
	return &Message{
		Type:    TypeError,
		Code:    code,
		Message: message,
		SentAt:  now.UTC().Format(time.RFC3339),
	}
}

func requireFields(fields map[string]string) error {
	for name, val := range fields {
		if val == "" {
			return &ParseError{
				Code:   CodeInvalidMessage,
				Reason: fmt.Sprintf("missing required field: %s", name),
			}
		}
	}
	return nil
}

func trimFields(m *Message) {
	m.Type = strings.TrimSpace(m.Type)
	m.ClientID = strings.TrimSpace(m.ClientID)
	m.InstanceID = strings.TrimSpace(m.InstanceID)
	m.Platform = strings.TrimSpace(m.Platform)
	m.ConnectionID = strings.TrimSpace(m.ConnectionID)
	m.ServerTime = strings.TrimSpace(m.ServerTime)
	m.ServerVersion = strings.TrimSpace(m.ServerVersion)
	m.EventType = strings.TrimSpace(m.EventType)
	m.EventID = strings.TrimSpace(m.EventID)
	m.CommandID = strings.TrimSpace(m.CommandID)
	m.Name = strings.TrimSpace(m.Name)
	m.IssuedAt = strings.TrimSpace(m.IssuedAt)
	m.RespondedAt = strings.TrimSpace(m.RespondedAt)
	m.Code = strings.TrimSpace(m.Code)
	m.Message = strings.TrimSpace(m.Message)
	m.SentAt = strings.TrimSpace(m.SentAt)
}

// isJSONObject reports whether raw is a JSON object (not array, scalar, or
// null).
func isJSONObject(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return strings.HasPrefix(trimmed, "{")
}
