package memory

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound reports that no turns are stored for a session.
var ErrSessionNotFound = errors.New("session not found")

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TurnRecord stores a single user or assistant conversational turn.
type TurnRecord struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	ContextUsed string    `json:"context_used,omitempty"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Exchange is one completed question and answer, persisted as two turns.
type Exchange struct {
	SessionID   string
	UserMessage string
	BotResponse string
	ContextUsed string
	PIIRedacted bool
}

// SessionSummary describes one stored conversation.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	Turns        int       `json:"turns"`
	LastActivity time.Time `json:"last_activity"`
}

// Store persists and retrieves conversation history.
type Store interface {
	SaveExchange(ctx context.Context, ex Exchange) error
	// History returns up to limit of the newest turns in chronological order.
	History(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error)
	Sessions(ctx context.Context) ([]SessionSummary, error)
	ClearSession(ctx context.Context, sessionID string) error
	Kind() string
	Close() error
}

// exchangeRecords splits an exchange into its user and assistant turns.
func exchangeRecords(ex Exchange, newID func() string, now time.Time) [2]TurnRecord {
	return [2]TurnRecord{
		{
			ID:          newID(),
			SessionID:   ex.SessionID,
			Role:        RoleUser,
			Content:     ex.UserMessage,
			PIIRedacted: ex.PIIRedacted,
			CreatedAt:   now,
		},
		{
			ID:          newID(),
			SessionID:   ex.SessionID,
			Role:        RoleAssistant,
			Content:     ex.BotResponse,
			ContextUsed: ex.ContextUsed,
			PIIRedacted: ex.PIIRedacted,
			CreatedAt:   now,
		},
	}
}
