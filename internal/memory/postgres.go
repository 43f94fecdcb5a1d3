package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversation history in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_messages (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			context_used TEXT NOT NULL DEFAULT '',
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_session_seq ON chat_messages (session_id, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveExchange(ctx context.Context, ex Exchange) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save exchange: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, r := range exchangeRecords(ex, uuid.NewString, time.Now().UTC()) {
		_, err := tx.Exec(ctx,
			`INSERT INTO chat_messages (id, session_id, role, content, context_used, pii_redacted, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.ID, r.SessionID, r.Role, r.Content, r.ContextUsed, r.PIIRedacted, r.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("save turn: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save exchange: %w", err)
	}
	return nil
}

func (s *PostgresStore) History(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, content, context_used, pii_redacted, created_at
		 FROM chat_messages WHERE session_id=$1 ORDER BY seq DESC LIMIT $2`,
		sessionID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TurnRecord, error) {
		var r TurnRecord
		err := row.Scan(&r.ID, &r.SessionID, &r.Role, &r.Content, &r.ContextUsed, &r.PIIRedacted, &r.CreatedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan history rows: %w", err)
	}

	reverse(items)
	return items, nil
}

func (s *PostgresStore) Sessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT session_id, COUNT(*), MAX(created_at)
		 FROM chat_messages GROUP BY session_id ORDER BY MAX(created_at) DESC, session_id`,
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

func (s *PostgresStore) ClearSession(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chat_messages WHERE session_id=$1`, sessionID)
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PostgresStore) Kind() string { return "postgres" }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// reverse puts newest-first rows back into chronological order.
func reverse(items []TurnRecord) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
