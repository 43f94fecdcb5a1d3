package memory

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/antoniostano/collegegpt/internal/reliability"
)

const postgresConnectAttempts = 4

// NewStore picks the store from the database URL: empty for in-memory,
// postgres:// for PostgreSQL, sqlite:// or a *.db path for SQLite.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	dsn := strings.TrimSpace(databaseURL)
	switch {
	case dsn == "":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	case strings.HasSuffix(dsn, ".db"):
		return NewSQLiteStore(ctx, dsn)
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return connectPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported DATABASE_URL scheme")
	}
}

// connectPostgres retries startup while the database container comes up.
func connectPostgres(ctx context.Context, dsn string) (Store, error) {
	var lastErr error
	for attempt := 0; attempt < postgresConnectAttempts; attempt++ {
		store, err := NewPostgresStore(ctx, dsn)
		if err == nil {
			return store, nil
		}
		lastErr = err
		if attempt == postgresConnectAttempts-1 {
			break
		}
		wait := reliability.ExponentialBackoff(attempt, 250*time.Millisecond, 4*time.Second)
		log.Printf("postgres not ready (attempt %d): %v; retrying in %s", attempt+1, err, wait)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}
