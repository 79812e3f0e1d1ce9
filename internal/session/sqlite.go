package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/etna-educacion/etna-chat/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite so session state survives a
// server restart within one browser session.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // serialises writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed session store.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// modernc applies each _pragma on every new connection.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
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
	CREATE TABLE IF NOT EXISTS chat_sessions (
		session_id TEXT PRIMARY KEY,
		thread_id TEXT,
		chat_started INTEGER NOT NULL DEFAULT 0,
		messages_json TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated ON chat_sessions(updated_at);
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

// Get retrieves a session by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	query := `
		SELECT session_id, thread_id, chat_started, messages_json, created_at, updated_at
		FROM chat_sessions WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, id)

	var sess domain.Session
	var threadID sql.NullString
	var messagesJSON string
	var createdAt, updatedAt int64

	err := row.Scan(&sess.ID, &threadID, &sess.ChatStarted, &messagesJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat session: %w", err)
	}

	sess.ThreadID = threadID.String
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)
	if err := json.Unmarshal([]byte(messagesJSON), &sess.Messages); err != nil {
		return nil, fmt.Errorf("decode messages for session %s: %w", id, err)
	}
	if sess.Messages == nil {
		sess.Messages = []domain.Message{}
	}

	return &sess, nil
}

// Put creates or updates a session.
func (s *SQLiteStore) Put(ctx context.Context, sess *domain.Session) error {
	messages := sess.Messages
	if messages == nil {
		messages = []domain.Message{}
	}
	messagesJSON, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}

	var threadID interface{}
	if sess.ThreadID != "" {
		threadID = sess.ThreadID
	}

	updatedAt := sess.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	createdAt := sess.CreatedAt
	if createdAt.IsZero() {
		createdAt = updatedAt
	}

	query := `
	INSERT INTO chat_sessions (session_id, thread_id, chat_started, messages_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		thread_id = excluded.thread_id,
		chat_started = excluded.chat_started,
		messages_json = excluded.messages_json,
		updated_at = excluded.updated_at`

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, query,
		sess.ID, threadID, sess.ChatStarted, string(messagesJSON),
		createdAt.Unix(), updatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert chat session: %w", err)
	}
	return nil
}

// Delete removes a session.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.deleteOnce(ctx, id)
		if err == nil {
			return nil
		}

		if isSQLiteConflict(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // exponential backoff: 100ms, 200ms, 400ms
			slog.Debug("Session delete failed with SQLITE_BUSY, retrying",
				"session_id", id,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}

		return fmt.Errorf("failed to delete chat session %s after %d attempts: %w", id, i+1, err)
	}

	return nil
}

func (s *SQLiteStore) deleteOnce(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete chat session: %w", err)
	}
	return nil
}

// CleanupExpired removes sessions not updated within ttl.
func (s *SQLiteStore) CleanupExpired(ctx context.Context, ttl time.Duration) ([]string, error) {
	threshold := time.Now().Add(-ttl).Unix()

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM chat_sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan expired session row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close expired sessions rows", "error", err)
	}

	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE updated_at < ?`, threshold); err != nil {
		return nil, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return ids, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
