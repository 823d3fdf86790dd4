package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryCap bounds the in-memory log so a long-lived process does not grow
// without limit.
const memoryCap = 10_000

// MemoryStore is the in-process audit log used when no database is
// configured, and by tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries []LogEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// AppendConversation implements Store.
func (s *MemoryStore) AppendConversation(_ context.Context, rec ConversationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	detail := map[string]any{
		"sessionId":   rec.SessionID,
		"userId":      rec.UserID,
		"prompt":      rec.Prompt,
		"response":    rec.Response,
		"tier":        rec.Tier,
		"totalTokens": rec.TotalTokens,
	}
	for k, v := range rec.Meta {
		detail[k] = v
	}
	s.append(LogEntry{
		ID:        rec.ID,
		Kind:      KindConversation,
		Summary:   rec.Prompt,
		Detail:    detail,
		CreatedAt: rec.CreatedAt,
	})
	return nil
}

// AppendEvent implements Store.
func (s *MemoryStore) AppendEvent(_ context.Context, rec EventRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.append(LogEntry{
		ID:      rec.ID,
		Kind:    KindEvent,
		Summary: rec.EventType,
		Detail: map[string]any{
			"userId":       rec.UserID,
			"connectionId": rec.ConnectionID,
			"payload":      rec.Payload,
		},
		CreatedAt: rec.CreatedAt,
	})
	return nil
}

// Recent implements Store. Entries are returned newest first.
func (s *MemoryStore) Recent(_ context.Context, limit int) ([]LogEntry, error) {
	if limit < 1 || limit > 100 {
		return nil, ErrInvalidLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	if limit > n {
		limit = n
	}
	out := make([]LogEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

func (s *MemoryStore) append(e LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	if len(s.entries) > memoryCap {
		s.entries = s.entries[len(s.entries)-memoryCap:]
	}
}
