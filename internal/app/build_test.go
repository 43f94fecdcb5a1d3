package app

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/antoniostano/collegegpt/internal/config"
	"github.com/antoniostano/collegegpt/internal/llm"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		MetricsNamespace:      fmt.Sprintf("test_app_%d", time.Now().UnixNano()),
		GroqAPIKey:            "test-key",
		DocsDir:               t.TempDir(),
		RAGTopK:               3,
		HistoryFetchLimit:     50,
		GenerationTimeout:     5 * time.Second,
		CleanerParagraphLimit: llm.DefaultParagraphLimit,
		LocalMaxConcurrency:   1,
		LocalDevice:           "cpu",
	}
}

func TestBuildIngestsDocsDir(t *testing.T) {
	cfg := testConfig(t)
	if err := os.WriteFile(filepath.Join(cfg.DocsDir, "library.txt"), []byte("The library opens at 8am."), 0o644); err != nil {
		t.Fatalf("write doc: %v", err)
	}

	res, err := Build(t.Context(), cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer res.Cleanup()

	if docs, _ := res.Index.Stats(); docs != 1 {
		t.Fatalf("indexed documents = %d, want 1", docs)
	}
	if mode := res.Backends.Backend().Mode(); mode != llm.ModeRemote {
		t.Fatalf("backend = %s, want remote", mode)
	}
	if got := res.Store.Kind(); got != "memory" {
		t.Fatalf("store kind = %q, want memory", got)
	}
}

func TestBuildFallsBackWhenLocalModelMissing(t *testing.T) {
	cfg := testConfig(t)
	cfg.UseLocalModel = true
	cfg.LocalModelPath = filepath.Join(t.TempDir(), "missing-model")

	res, err := Build(t.Context(), cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer res.Cleanup()

	if mode := res.Backends.Backend().Mode(); mode != llm.ModeRemote {
		t.Fatalf("backend = %s, want remote fallback", mode)
	}
	if got := testutil.ToFloat64(res.Metrics.BackendFallbacks); got != 1 {
		t.Fatalf("fallbacks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(res.Metrics.ActiveBackend.WithLabelValues("remote")); got != 1 {
		t.Fatalf("active remote gauge = %v, want 1", got)
	}
}

func TestBuildFailsWithoutRemoteKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.GroqAPIKey = ""

	if _, err := Build(t.Context(), cfg); err == nil {
		t.Fatalf("Build() error = nil, want missing key error")
	}
}

func TestBuildMissingDocsDirLeavesIndexEmpty(t *testing.T) {
	cfg := testConfig(t)
	cfg.DocsDir = filepath.Join(t.TempDir(), "absent")

	res, err := Build(t.Context(), cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer res.Cleanup()

	if docs, chunks := res.Index.Stats(); docs != 0 || chunks != 0 {
		t.Fatalf("Stats() = %d/%d, want empty index", docs, chunks)
	}
}
