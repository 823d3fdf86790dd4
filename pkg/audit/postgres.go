package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// auditSchema is applied at startup. The log is append-only: no UPDATE or
// DELETE paths exist in this package.
const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_log (
    id         TEXT PRIMARY KEY,
    kind       TEXT NOT NULL,
    summary    TEXT NOT NULL,
    detail     JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS audit_log_created_at_idx ON audit_log (created_at DESC);
`

// PostgresStore persists audit records in a single append-only table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, verifies the connection, and ensures the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := pool.Exec(ctx, auditSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring audit schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity (used by the health endpoint).
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// AppendConversation implements Store.
func (s *PostgresStore) AppendConversation(ctx context.Context, rec ConversationRecord) error {
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
	return s.insert(ctx, rec.ID, KindConversation, rec.Prompt, detail, rec.CreatedAt)
}

// AppendEvent implements Store.
func (s *PostgresStore) AppendEvent(ctx context.Context, rec EventRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	detail := map[string]any{
		"userId":       rec.UserID,
		"connectionId": rec.ConnectionID,
		"payload":      rec.Payload,
	}
	return s.insert(ctx, rec.ID, KindEvent, rec.EventType, detail, rec.CreatedAt)
}

// Recent implements Store. Entries are returned newest first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit < 1 || limit > 100 {
		return nil, ErrInvalidLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, summary, detail, created_at
		 FROM audit_log ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	entries := make([]LogEntry, 0, limit)
	for rows.Next() {
		var e LogEntry
		var detail []byte
		if err := rows.Scan(&e.ID, &e.Kind, &e.Summary, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("decoding audit detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) insert(ctx context.Context, id, kind, summary string, detail map[string]any, createdAt time.Time) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("encoding audit detail: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_log (id, kind, summary, detail, created_at) VALUES ($1, $2, $3, $4, $5)`,
		id, kind, summary, raw, createdAt)
	if err != nil {
		return fmt.Errorf("appending audit record: %w", err)
	}
	return nil
}
