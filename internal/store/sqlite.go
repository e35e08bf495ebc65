package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/ashureev/voicewidget/internal/domain"
	"github.com/ashureev/voicewidget/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		trigger TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		transcript_json TEXT NOT NULL,
		summary TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_agent_ended ON conversations(agent_id, ended_at);
	CREATE INDEX IF NOT EXISTS idx_conversations_ended ON conversations(ended_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveConversation inserts a finished conversation.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) SaveConversation(ctx context.Context, rec *domain.ConversationRecord) error {
	if rec == nil || rec.ID == "" {
		return errors.New("conversation id is required")
	}
	transcript := rec.Transcript
	if transcript == nil {
		transcript = []domain.TranscriptEntry{}
	}
	transcriptJSON, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var summary interface{}
	if rec.Summary != nil {
		summary = *rec.Summary
	}

	query := `
	INSERT INTO conversations (
		id, session_id, account_id, agent_id, trigger,
		started_at, ended_at, duration_ms, transcript_json, summary, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`

	return s.withRetry(ctx, "save conversation", rec.ID, func() error {
		_, err := s.db.ExecContext(ctx, query,
			rec.ID, rec.SessionID, rec.AccountID, rec.AgentID, rec.Trigger,
			rec.StartedAt.UnixMilli(), rec.EndedAt.UnixMilli(), rec.Duration.Milliseconds(),
			string(transcriptJSON), summary, createdAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		return nil
	})
}

// UpdateSummary attaches a summary to a stored conversation.
func (s *SQLiteStore) UpdateSummary(ctx context.Context, id, summary string) error {
	var affected int64
	err := s.withRetry(ctx, "update summary", id, func() error {
		result, err := s.db.ExecContext(ctx, `UPDATE conversations SET summary = ? WHERE id = ?`, summary, id)
		if err != nil {
			return fmt.Errorf("update summary: %w", err)
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// withRetry runs a write under the write lock, retrying SQLite conflict errors with
// exponential backoff: 100ms, 200ms.
func (s *SQLiteStore) withRetry(ctx context.Context, op, id string, fn func() error) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		s.writeMu.Lock()
		err = fn()
		s.writeMu.Unlock()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("SQLite write conflict, retrying", "op", op, "id", id, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s %s: %w", op, id, err)
}

const conversationColumns = `
	id, session_id, account_id, agent_id, trigger,
	started_at, ended_at, duration_ms, transcript_json, summary, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*domain.ConversationRecord, error) {
	var rec domain.ConversationRecord
	var startedAt, endedAt, durationMs, createdAt int64
	var transcriptJSON string
	var summary sql.NullString

	if err := row.Scan(
		&rec.ID, &rec.SessionID, &rec.AccountID, &rec.AgentID, &rec.Trigger,
		&startedAt, &endedAt, &durationMs, &transcriptJSON, &summary, &createdAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(transcriptJSON), &rec.Transcript); err != nil {
		return nil, fmt.Errorf("decode transcript of %s: %w", rec.ID, err)
	}
	rec.StartedAt = time.UnixMilli(startedAt)
	rec.EndedAt = time.UnixMilli(endedAt)
	rec.Duration = time.Duration(durationMs) * time.Millisecond
	rec.CreatedAt = time.Unix(createdAt, 0)
	if summary.Valid {
		s := summary.String
		rec.Summary = &s
	}
	return &rec, nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*domain.ConversationRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	rec, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}
	return rec, nil
}

// ListConversations returns the newest conversations first.
func (s *SQLiteStore) ListConversations(ctx context.Context, agentID string, limit int) ([]*domain.ConversationRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations`
	args := []any{}
	if agentID != "" {
		query += ` WHERE agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY ended_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var records []*domain.ConversationRecord
	for rows.Next() {
		rec, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return records, nil
}

// RecentHistory projects the last limit conversations of agentID, oldest first. Each
// entry carries the summary when one exists, otherwise the transcript.
func (s *SQLiteStore) RecentHistory(ctx context.Context, agentID string, limit int) ([]map[string]any, error) {
	records, err := s.ListConversations(ctx, agentID, limit)
	if err != nil {
		return nil, err
	}
	slices.Reverse(records)

	history := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		entry := map[string]any{
			"date":       rec.EndedAt.UTC().Format(time.RFC3339),
			"durationMs": rec.Duration.Milliseconds(),
		}
		if rec.Summary != nil && *rec.Summary != "" {
			entry["summary"] = *rec.Summary
		} else {
			turns := make([]map[string]string, 0, len(rec.Transcript))
			for _, t := range rec.Transcript {
				turns = append(turns, map[string]string{"role": t.Role, "text": t.Text})
			}
			entry["transcript"] = turns
		}
		history = append(history, entry)
	}
	return history, nil
}

// CleanupExpired removes conversations older than TTL.
func (s *SQLiteStore) CleanupExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).UnixMilli()
	var deleted int64
	err := s.withRetry(ctx, "cleanup conversations", "", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE ended_at < ?`, threshold)
		if err != nil {
			return fmt.Errorf("cleanup expired conversations: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}
