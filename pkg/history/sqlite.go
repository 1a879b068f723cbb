// Package history persists message trees.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/logger"

	_ "modernc.org/sqlite"
)

// ThreadInfo summarizes a stored thread.
type ThreadInfo struct {
	ID        string
	HeadID    string
	Messages  int
	UpdatedAt time.Time
}

// SQLite stores any number of threads in one database file.
type SQLite struct {
	db  *sql.DB
	log *logger.ComponentLogger
}

// OpenSQLite opens (and creates if needed) the database at path and ensures
// the tables exist.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(pctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	db.SetMaxOpenConns(1)

	if err := bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db, log: logger.WithComponent("history")}, nil
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			id         TEXT PRIMARY KEY,
			head_id    TEXT,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			thread_id  TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
			id         TEXT NOT NULL,
			parent_id  TEXT,
			seq        INTEGER NOT NULL,
			role       TEXT NOT NULL,
			status     TEXT NOT NULL,
			body       JSON NOT NULL,
			PRIMARY KEY (thread_id, id)
		);`,
		`CREATE INDEX IF NOT EXISTS messages_thread_seq_idx ON messages(thread_id, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}

// Close closes the database
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Thread returns the history adapter of one thread
func (s *SQLite) Thread(id string) *SQLiteThread {
	return &SQLiteThread{store: s, id: id}
}

// Threads lists stored threads, most recently updated first.
func (s *SQLite) Threads(ctx context.Context) ([]ThreadInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, COALESCE(t.head_id, ''), t.updated_at, COUNT(m.id)
		FROM threads t LEFT JOIN messages m ON m.thread_id = t.id
		GROUP BY t.id
		ORDER BY t.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var out []ThreadInfo
	for rows.Next() {
		var info ThreadInfo
		var updated string
		if err := rows.Scan(&info.ID, &info.HeadID, &updated, &info.Messages); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		info.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, info)
	}
	return out, rows.Err()
}

// Delete removes a thread and its messages.
func (s *SQLite) Delete(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, threadID); err != nil {
		return fmt.Errorf("delete thread %s: %w", threadID, err)
	}
	return nil
}

// SQLiteThread implements thread.History for one thread id.
type SQLiteThread struct {
	store *SQLite
	id    string
}

// Load returns the stored tree, or an empty export for an unknown thread.
func (t *SQLiteThread) Load(ctx context.Context) (chat.Export, error) {
	var head sql.NullString
	err := t.store.db.QueryRowContext(ctx, `SELECT head_id FROM threads WHERE id = ?`, t.id).Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Export{}, nil
	}
	if err != nil {
		return chat.Export{}, fmt.Errorf("load thread %s: %w", t.id, err)
	}

	rows, err := t.store.db.QueryContext(ctx, `SELECT body FROM messages WHERE thread_id = ? ORDER BY seq`, t.id)
	if err != nil {
		return chat.Export{}, fmt.Errorf("load messages of %s: %w", t.id, err)
	}
	defer rows.Close()

	export := chat.Export{HeadID: head.String}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return chat.Export{}, fmt.Errorf("scan message: %w", err)
		}
		var msg chat.Message
		if err := json.Unmarshal(body, &msg); err != nil {
			return chat.Export{}, fmt.Errorf("decode message of %s: %w", t.id, err)
		}
		export.Messages = append(export.Messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return chat.Export{}, err
	}

	t.store.log.Debug("Loaded %d messages of thread %s", len(export.Messages), t.id)
	return export, nil
}

// Save replaces the stored tree in one transaction.
func (t *SQLiteThread) Save(ctx context.Context, export chat.Export) error {
	tx, err := t.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save of %s: %w", t.id, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO threads (id, head_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET head_id = excluded.head_id, updated_at = excluded.updated_at`,
		t.id, export.HeadID, now); err != nil {
		return fmt.Errorf("save thread %s: %w", t.id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE thread_id = ?`, t.id); err != nil {
		return fmt.Errorf("clear messages of %s: %w", t.id, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (thread_id, id, parent_id, seq, role, status, body)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare message insert: %w", err)
	}
	defer stmt.Close()

	for i, msg := range export.Messages {
		body, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode message %s: %w", msg.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, t.id, msg.ID, msg.ParentID, i, string(msg.Role), string(msg.Status.Type), string(body)); err != nil {
			return fmt.Errorf("insert message %s: %w", msg.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save of %s: %w", t.id, err)
	}
	t.store.log.Debug("Saved %d messages of thread %s", len(export.Messages), t.id)
	return nil
}
