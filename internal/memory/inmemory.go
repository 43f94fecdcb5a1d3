package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process conversation store for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]TurnRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]TurnRecord)}
}

func (s *InMemoryStore) SaveExchange(_ context.Context, ex Exchange) error {
	pair := exchangeRecords(ex, uuid.NewString, time.Now().UTC())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[ex.SessionID] = append(s.records[ex.SessionID], pair[0], pair[1])
	return nil
}

func (s *InMemoryStore) History(_ context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[sessionID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]TurnRecord, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *InMemoryStore) Sessions(_ context.Context) ([]SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SessionSummary, 0, len(s.records))
	for id, arr := range s.records {
		out = append(out, SessionSummary{
			SessionID:    id,
			Turns:        len(arr),
			LastActivity: arr[len(arr)-1].CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

func (s *InMemoryStore) ClearSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.records, sessionID)
	return nil
}

func (s *InMemoryStore) Kind() string { return "memory" }

func (s *InMemoryStore) Close() error { return nil }
