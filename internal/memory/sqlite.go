package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists conversation history in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := initSQLiteSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initSQLiteSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			context_used TEXT NOT NULL DEFAULT '',
			pii_redacted INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_session_seq ON chat_messages (session_id, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLiteStore) SaveExchange(ctx context.Context, ex Exchange) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save exchange: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range exchangeRecords(ex, uuid.NewString, time.Now().UTC()) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO chat_messages (id, session_id, role, content, context_used, pii_redacted, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.SessionID, r.Role, r.Content, r.ContextUsed, r.PIIRedacted, r.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("save turn: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save exchange: %w", err)
	}
	return nil
}

func (s *SQLiteStore) History(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, context_used, pii_redacted, created_at
		 FROM chat_messages WHERE session_id = ? ORDER BY seq DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	items := make([]TurnRecord, 0, limit)
	for rows.Next() {
		var r TurnRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Role, &r.Content, &r.ContextUsed, &r.PIIRedacted, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	reverse(items)
	return items, nil
}

func (s *SQLiteStore) Sessions(ctx context.Context) ([]SessionSummary, error) {
	// created_at is read through a join on the newest row rather than an
	// aggregate, so the driver still sees its TIMESTAMP column type.
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.session_id, g.turns, m.created_at
		 FROM (SELECT session_id, COUNT(*) AS turns, MAX(seq) AS last_seq
		       FROM chat_messages GROUP BY session_id) g
		 JOIN chat_messages m ON m.seq = g.last_seq
		 ORDER BY g.last_seq DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.SessionID, &sum.Turns, &sum.LastActivity); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) ClearSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteStore) Kind() string { return "sqlite" }

func (s *SQLiteStore) Close() error { return s.db.Close() }
