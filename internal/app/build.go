package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"

	"github.com/antoniostano/collegegpt/internal/chat"
	"github.com/antoniostano/collegegpt/internal/config"
	"github.com/antoniostano/collegegpt/internal/httpapi"
	"github.com/antoniostano/collegegpt/internal/llm"
	"github.com/antoniostano/collegegpt/internal/memory"
	"github.com/antoniostano/collegegpt/internal/observability"
	"github.com/antoniostano/collegegpt/internal/retrieval"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Chat     *chat.Service
	Backends *llm.Active
	Index    *retrieval.Index
	Store    memory.Store
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to release external resources (DB handles).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}

	backends, err := llm.NewActive(backendOptions(cfg, metrics))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("llm backend init failed: %w", err)
	}
	metrics.SetActiveBackend(string(backends.Backend().Mode()))

	index := retrieval.NewIndex()
	ingestDocs(ctx, index, cfg.DocsDir)

	svc := chat.NewService(backends, index, store, metrics, chat.Config{
		TopK:              cfg.RAGTopK,
		HistoryLimit:      cfg.HistoryFetchLimit,
		GenerationTimeout: cfg.GenerationTimeout,
		RedactPII:         cfg.RedactPII,
	})

	api := httpapi.New(cfg, svc, backends, index, store, metrics)

	cleanup := func() error {
		var errs []string
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Chat:     svc,
		Backends: backends,
		Index:    index,
		Store:    store,
		Metrics:  metrics,
		Cleanup:  cleanup,
	}, nil
}

func backendOptions(cfg config.Config, metrics *observability.Metrics) llm.Options {
	return llm.Options{
		UseLocal: cfg.UseLocalModel,
		Local: llm.LocalConfig{
			ModelPath:      cfg.LocalModelPath,
			LlamaCLI:       cfg.LocalLlamaCLI,
			Device:         cfg.LocalDevice,
			GPULayers:      cfg.LocalGPULayers,
			MaxConcurrency: cfg.LocalMaxConcurrency,
			Cleaner:        llm.Cleaner{ParagraphLimit: cfg.CleanerParagraphLimit},
		},
		Remote: llm.RemoteConfig{
			APIKey:  cfg.GroqAPIKey,
			BaseURL: cfg.GroqBaseURL,
			Model:   cfg.GroqModel,
			Persona: llm.Persona,
		},
		OnFallback: func(error) {
			metrics.BackendFallbacks.Inc()
			metrics.CountEvent("backend_fallback")
		},
	}
}

// ingestDocs indexes the startup corpus. A missing or empty directory leaves
// the index empty; the service still answers without context.
func ingestDocs(ctx context.Context, index *retrieval.Index, dir string) {
	if strings.TrimSpace(dir) == "" {
		return
	}
	if _, err := os.Stat(dir); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("docs dir %s unreadable: %v", dir, err)
		}
		return
	}
	docs, err := index.Ingest(ctx, dir)
	if err != nil {
		log.Printf("startup ingest skipped: %v", err)
		return
	}
	_, chunks := index.Stats()
	log.Printf("indexed %d documents (%d chunks) from %s", docs, chunks, dir)
}
