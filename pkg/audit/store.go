// Package audit is the append-only audit log collaborator. The pipeline
// appends conversation records; the IPC bridge appends daemon event records.
package audit

import (
	"context"
	"errors"
	"time"
)

// Record kinds.
const (
	KindConversation = "conversation"
	KindEvent        = "event"
)

// ErrInvalidLimit is returned for Recent limits outside 1..100.
var ErrInvalidLimit = errors.New("limit must be between 1 and 100")

// ConversationRecord is one completed pipeline request.
type ConversationRecord struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"sessionId,omitempty"`
	UserID      string         `json:"userId,omitempty"`
	Prompt      string         `json:"prompt"`
	Response    string         `json:"response"`
	Tier        string         `json:"tier"`
	TotalTokens int            `json:"totalTokens"`
	Meta        map[string]any `json:"meta,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// EventRecord is one daemon-emitted event forwarded from the IPC bridge.
type EventRecord struct {
	ID           string         `json:"id"`
	EventType    string         `json:"eventType"`
	UserID       string         `json:"userId,omitempty"`
	ConnectionID string         `json:"connectionId,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// LogEntry is the uniform shape returned by Recent.
type LogEntry struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Summary   string         `json:"summary"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Store is the audit-log collaborator interface. Append failures are
// advisory to the request path: callers warn-log and continue.
type Store interface {
	AppendConversation(ctx context.Context, rec ConversationRecord) error
	AppendEvent(ctx context.Context, rec EventRecord) error
	Recent(ctx context.Context, limit int) ([]LogEntry, error)
}
