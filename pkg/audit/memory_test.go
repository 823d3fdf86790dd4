package audit

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRecentNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendEvent(ctx, EventRecord{EventType: fmt.Sprintf("e%d", i)}))
	}

	logs, err := store.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "e4", logs[0].Summary)
	assert.Equal(t, "e3", logs[1].Summary)
	assert.Equal(t, "e2", logs[2].Summary)
}

func TestMemoryStoreLimitBounds(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, limit := range []int{0, -1, 101} {
		_, err := store.Recent(ctx, limit)
		assert.ErrorIs(t, err, ErrInvalidLimit, "limit %d", limit)
	}

	// A valid limit larger than the log is satisfied with what exists.
	require.NoError(t, store.AppendEvent(ctx, EventRecord{EventType: "only"}))
	logs, err := store.Recent(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestMemoryStoreConversationDetail(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.AppendConversation(ctx, ConversationRecord{
		SessionID:   "s1",
		UserID:      "u1",
		Prompt:      "what is the plan",
		Response:    "the plan",
		Tier:        "simple",
		TotalTokens: 42,
		Meta:        map[string]any{"escalated": false},
	}))

	logs, err := store.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)

	entry := logs[0]
	assert.Equal(t, KindConversation, entry.Kind)
	assert.Equal(t, "what is the plan", entry.Summary)
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())
	assert.Equal(t, "s1", entry.Detail["sessionId"])
	assert.Equal(t, 42, entry.Detail["totalTokens"])
	assert.Equal(t, false, entry.Detail["escalated"])
}

func TestMemoryStoreCapped(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < memoryCap+10; i++ {
		require.NoError(t, store.AppendEvent(ctx, EventRecord{EventType: fmt.Sprintf("e%d", i)}))
	}

	logs, err := store.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, fmt.Sprintf("e%d", memoryCap+9), logs[0].Summary)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.entries, memoryCap)
}
