package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/collegegpt/internal/chat"
	"github.com/antoniostano/collegegpt/internal/config"
	"github.com/antoniostano/collegegpt/internal/llm"
	"github.com/antoniostano/collegegpt/internal/memory"
	"github.com/antoniostano/collegegpt/internal/observability"
	"github.com/antoniostano/collegegpt/internal/protocol"
	"github.com/antoniostano/collegegpt/internal/retrieval"
)

type Server struct {
	cfg      config.Config
	chat     *chat.Service
	backends *llm.Active
	index    *retrieval.Index
	store    memory.Store
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, chatService *chat.Service, backends *llm.Active, index *retrieval.Index, store memory.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		chat:     chatService,
		backends: backends,
		index:    index,
		store:    store,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleServiceHealth)
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/perf/stages", s.handlePerfStages)

	r.Post("/chat", s.handleChat)
	r.Post("/chat/stream", s.handleChatStream)
	r.Get("/chat/ws", s.handleChatWS)

	r.Post("/switch-model", s.handleSwitchModel)
	r.Get("/model-info", s.handleModelInfo)
	r.Post("/ingest", s.handleIngest)
	r.Post("/documents", s.handleAddDocument)
	r.Delete("/vector-store", s.handleClearIndex)
	r.Get("/search", s.handleSearch)
	r.Get("/sessions", s.handleListSessions)
	r.Delete("/session/{session_id}", s.handleClearSession)

	return r
}

// cors answers browser preflights when any origin is allowed. Otherwise no
// CORS headers are sent and browsers fall back to same-origin.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.AllowAnyOrigin {
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Expose-Headers", "X-Session-ID")
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"message":    "CollegeGPT API",
		"status":     "running",
		"model_type": s.backends.Backend().Mode(),
	})
}

func (s *Server) handleServiceHealth(w http.ResponseWriter, _ *http.Request) {
	docs, _ := s.index.Stats()
	database := "none"
	if s.store != nil {
		database = s.store.Kind()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"services": map[string]any{
			"llm":      s.backends.Backend() != nil,
			"llm_type": s.backends.Backend().Mode(),
			"rag":      docs > 0,
			"database": database,
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"backend": s.backends.Backend().Mode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	docs, chunks := s.index.Stats()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ready",
		"backend":   s.backends.Backend().Mode(),
		"documents": docs,
		"chunks":    chunks,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// chatErrorStatus maps a failed chat turn to an HTTP status and error code.
func chatErrorStatus(err error) (int, string) {
	var genErr *llm.GenerationError
	switch {
	case errors.Is(err, chat.ErrEmptyQuery):
		return http.StatusBadRequest, "invalid_request"
	case errors.As(err, &genErr) && genErr.Retryable:
		return http.StatusBadGateway, "upstream_unavailable"
	case errors.As(err, &genErr):
		return http.StatusInternalServerError, "generation_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ChatRequest:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.AssistantTextDelta:
		return m.Type, true
	case protocol.AssistantTurnEnd:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
