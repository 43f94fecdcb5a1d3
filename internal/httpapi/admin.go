package httpapi

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/collegegpt/internal/llm"
	"github.com/antoniostano/collegegpt/internal/memory"
	"github.com/antoniostano/collegegpt/internal/retrieval"
)

func (s *Server) handleSwitchModel(w http.ResponseWriter, r *http.Request) {
	useLocal, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get("use_local")))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "query parameter use_local must be a boolean")
		return
	}
	requested := llm.ModeRemote
	if useLocal {
		requested = llm.ModeLocal
	}

	backend, err := s.backends.Switch(useLocal)
	if err != nil {
		if s.metrics != nil {
			s.metrics.BackendSwitches.WithLabelValues(string(requested), "rejected").Inc()
		}
		if llm.IsConfigurationError(err) {
			respondError(w, http.StatusBadRequest, "backend_unavailable", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.BackendSwitches.WithLabelValues(string(requested), "ok").Inc()
		s.metrics.SetActiveBackend(string(backend.Mode()))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message":    fmt.Sprintf("switched to %s backend", backend.Mode()),
		"model_info": backend.Info(),
	})
}

func (s *Server) handleModelInfo(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.backends.Backend().Info())
}

type ingestRequest struct {
	DataPath string `json:"data_path,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var body ingestRequest
	if err := decodeJSON(r, &body); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	dir := strings.TrimSpace(body.DataPath)
	if dir == "" {
		dir = s.cfg.DocsDir
	}

	docs, err := s.index.Ingest(r.Context(), dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		respondError(w, http.StatusNotFound, "data_path_not_found", fmt.Sprintf("data path %q does not exist", dir))
		return
	case errors.Is(err, retrieval.ErrNoDocuments):
		respondError(w, http.StatusBadRequest, "no_documents", fmt.Sprintf("no .txt or .md documents under %q", dir))
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "ingest_failed", err.Error())
		return
	}
	_, chunks := s.index.Stats()
	log.Printf("ingested %d documents (%d chunks) from %s", docs, chunks, dir)
	respondJSON(w, http.StatusOK, map[string]any{
		"message":   fmt.Sprintf("ingested %d documents", docs),
		"documents": docs,
		"chunks":    chunks,
	})
}

type documentRequest struct {
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`
}

// handleAddDocument indexes one document sent inline, replacing an earlier
// upload with the same id.
func (s *Server) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	var body documentRequest
	if err := decodeJSON(r, &body); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	id := strings.TrimSpace(body.DocumentID)
	if id == "" || strings.TrimSpace(body.Content) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "document_id and content are required")
		return
	}

	chunks := s.index.Add(id, body.Content)
	if chunks == 0 {
		respondError(w, http.StatusBadRequest, "no_documents", "content produced no indexable text")
		return
	}
	docs, total := s.index.Stats()
	log.Printf("indexed document %s (%d chunks)", id, chunks)
	respondJSON(w, http.StatusOK, map[string]any{
		"document_id":  id,
		"chunks":       chunks,
		"documents":    docs,
		"total_chunks": total,
	})
}

func (s *Server) handleClearIndex(w http.ResponseWriter, _ *http.Request) {
	s.index.Clear()
	respondJSON(w, http.StatusOK, map[string]any{"message": "vector store cleared"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "query parameter query is required")
		return
	}
	k := 3
	if raw := strings.TrimSpace(r.URL.Query().Get("k")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "query parameter k must be a positive integer")
			return
		}
		k = n
	}

	results := s.index.Search(query, k)
	if results == nil {
		results = []retrieval.Result{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"results": results,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondJSON(w, http.StatusOK, map[string]any{"sessions": []memory.SessionSummary{}})
		return
	}
	sessions, err := s.store.Sessions(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_failed", err.Error())
		return
	}
	if sessions == nil {
		sessions = []memory.SessionSummary{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "session_id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	if s.store == nil {
		respondError(w, http.StatusNotFound, "session_not_found", memory.ErrSessionNotFound.Error())
		return
	}
	if err := s.store.ClearSession(r.Context(), id); err != nil {
		if errors.Is(err, memory.ErrSessionNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "store_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message":    "session cleared",
		"session_id": id,
	})
}
