package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/collegegpt/internal/llm"
	"github.com/antoniostano/collegegpt/internal/memory"
	"github.com/antoniostano/collegegpt/internal/observability"
	"github.com/antoniostano/collegegpt/internal/policy"
)

// ErrEmptyQuery reports a request without a question.
var ErrEmptyQuery = errors.New("query is required")

// Retriever returns supporting context for a query; empty means nothing relevant.
type Retriever interface {
	Context(ctx context.Context, query string, k int) (string, error)
}

// BackendSource hands out the backend to use for one request.
type BackendSource interface {
	Backend() llm.Backend
}

// Config tunes request orchestration.
type Config struct {
	TopK              int
	HistoryLimit      int
	GenerationTimeout time.Duration
	RedactPII         bool
}

// Request is one user question. A request without a session id starts a
// new conversation and is answered without history.
type Request struct {
	Query     string
	SessionID string
	UseRAG    bool

	resolved    bool
	loadHistory bool
}

// WithSession fills in a new session id when the client sent none. It is
// idempotent, so callers may resolve the id early (for response headers).
func (r Request) WithSession() Request {
	if r.resolved {
		return r
	}
	r.resolved = true
	r.SessionID = strings.TrimSpace(r.SessionID)
	if r.SessionID == "" {
		r.SessionID = uuid.NewString()
	} else {
		r.loadHistory = true
	}
	return r
}

// Response is the outcome of one answered question.
type Response struct {
	Response    string
	ContextUsed string
	RAGUsed     bool
	SessionID   string
	Backend     llm.Mode
}

// Service builds generation requests from retrieval and history, runs the
// active backend and persists the finished exchange.
type Service struct {
	backends  BackendSource
	retriever Retriever
	store     memory.Store
	metrics   *observability.Metrics
	cfg       Config
}

func NewService(backends BackendSource, retriever Retriever, store memory.Store, metrics *observability.Metrics, cfg Config) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = 120 * time.Second
	}
	return &Service{
		backends:  backends,
		retriever: retriever,
		store:     store,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// Chat answers synchronously.
func (s *Service) Chat(ctx context.Context, req Request) (Response, error) {
	started := time.Now()
	req = req.WithSession()
	backend, genReq, err := s.prepare(ctx, req)
	if err != nil {
		return Response{}, err
	}

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	defer cancel()
	genStarted := time.Now()
	text, err := backend.Generate(genCtx, genReq)
	s.observeGeneration(backend.Mode(), "sync", err, time.Since(genStarted))
	if err != nil {
		return Response{}, err
	}

	resp := s.response(req, backend, genReq, text)
	if err := s.persist(ctx, resp, req.Query); err != nil {
		return Response{}, err
	}
	s.observeStage(observability.StageTotal, time.Since(started))
	return resp, nil
}

// ChatStream answers incrementally. Fragments reach onFragment in order; the
// exchange is persisted only after the last fragment and never on failure.
func (s *Service) ChatStream(ctx context.Context, req Request, onFragment llm.FragmentHandler) (Response, error) {
	started := time.Now()
	req = req.WithSession()
	backend, genReq, err := s.prepare(ctx, req)
	if err != nil {
		return Response{}, err
	}

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	defer cancel()
	genStarted := time.Now()
	first := true
	text, err := backend.GenerateStream(genCtx, genReq, func(fragment string) error {
		if first {
			first = false
			s.observeFirstFragment(backend.Mode(), time.Since(genStarted))
		}
		if onFragment == nil {
			return nil
		}
		return onFragment(fragment)
	})
	s.observeGeneration(backend.Mode(), "stream", err, time.Since(genStarted))
	if err != nil {
		return Response{}, err
	}

	resp := s.response(req, backend, genReq, text)
	if err := s.persist(ctx, resp, req.Query); err != nil {
		return Response{}, err
	}
	s.observeStage(observability.StageTotal, time.Since(started))
	return resp, nil
}

func (s *Service) prepare(ctx context.Context, req Request) (llm.Backend, llm.Request, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, llm.Request{}, ErrEmptyQuery
	}
	backend := s.backends.Backend()
	genReq := llm.Request{Query: query}

	if req.loadHistory && s.store != nil {
		t0 := time.Now()
		records, err := s.store.History(ctx, req.SessionID, s.cfg.HistoryLimit)
		if err != nil {
			return nil, llm.Request{}, fmt.Errorf("load history: %w", err)
		}
		genReq.History = toTurns(records)
		s.observeStage(observability.StageHistory, time.Since(t0))
	}

	if req.UseRAG && s.retriever != nil {
		t0 := time.Now()
		text, err := s.retriever.Context(ctx, query, s.cfg.TopK)
		if err != nil {
			if ctx.Err() != nil {
				return nil, llm.Request{}, ctx.Err()
			}
			log.Printf("retrieval failed, answering without context: %v", err)
			s.countEvent("retrieval_error")
		}
		genReq.Context = text
		s.observeStage(observability.StageRetrieval, time.Since(t0))
		if s.metrics != nil {
			s.metrics.RetrievalContextChars.Observe(float64(len(text)))
		}
	}
	return backend, genReq, nil
}

func (s *Service) response(req Request, backend llm.Backend, genReq llm.Request, text string) Response {
	return Response{
		Response:    text,
		ContextUsed: genReq.Context,
		RAGUsed:     req.UseRAG,
		SessionID:   req.SessionID,
		Backend:     backend.Mode(),
	}
}

func (s *Service) persist(ctx context.Context, resp Response, query string) error {
	if s.store == nil {
		return nil
	}
	t0 := time.Now()
	ex := memory.Exchange{
		SessionID:   resp.SessionID,
		UserMessage: strings.TrimSpace(query),
		BotResponse: resp.Response,
		ContextUsed: resp.ContextUsed,
	}
	if s.cfg.RedactPII {
		var userChanged, botChanged bool
		ex.UserMessage, userChanged = policy.RedactPII(ex.UserMessage)
		ex.BotResponse, botChanged = policy.RedactPII(ex.BotResponse)
		ex.PIIRedacted = userChanged || botChanged
	}
	if err := s.store.SaveExchange(ctx, ex); err != nil {
		return fmt.Errorf("save exchange: %w", err)
	}
	s.observeStage(observability.StagePersist, time.Since(t0))
	return nil
}

func toTurns(records []memory.TurnRecord) []llm.Turn {
	if len(records) == 0 {
		return nil
	}
	out := make([]llm.Turn, 0, len(records))
	for _, r := range records {
		role := llm.RoleAssistant
		if r.Role == memory.RoleUser {
			role = llm.RoleUser
		}
		out = append(out, llm.Turn{Role: role, Content: r.Content})
	}
	return out
}

func (s *Service) observeGeneration(mode llm.Mode, kind string, err error, d time.Duration) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	var genErr *llm.GenerationError
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		outcome = "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case errors.Is(err, llm.ErrEmptyResult):
		outcome = "empty"
	case errors.As(err, &genErr):
		outcome = "error"
	default:
		outcome = "aborted"
	}
	s.metrics.ObserveGeneration(string(mode), kind, outcome, d)
	if err == nil {
		s.metrics.ObserveStage(observability.StageGeneration, d)
	}
}

func (s *Service) observeFirstFragment(mode llm.Mode, d time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveFirstFragmentLatency(string(mode), d)
	}
}

func (s *Service) observeStage(stage string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveStage(stage, d)
	}
}

func (s *Service) countEvent(name string) {
	if s.metrics != nil {
		s.metrics.CountEvent(name)
	}
}
