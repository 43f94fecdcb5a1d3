package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8000" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8000")
	}
	if cfg.UseLocalModel {
		t.Fatalf("UseLocalModel = true, want false")
	}
	if cfg.GroqModel != "llama-3.1-8b-instant" {
		t.Fatalf("GroqModel = %q, want %q", cfg.GroqModel, "llama-3.1-8b-instant")
	}
	if cfg.LocalDevice != "auto" {
		t.Fatalf("LocalDevice = %q, want auto", cfg.LocalDevice)
	}
	if cfg.CleanerParagraphLimit != 500 {
		t.Fatalf("CleanerParagraphLimit = %d, want 500", cfg.CleanerParagraphLimit)
	}
	if cfg.GenerationTimeout != 120*time.Second {
		t.Fatalf("GenerationTimeout = %v, want 120s", cfg.GenerationTimeout)
	}
	if cfg.RAGTopK != 3 {
		t.Fatalf("RAGTopK = %d, want 3", cfg.RAGTopK)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
}

func TestLoadUsesExplicitEnv(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("USE_LOCAL_MODEL", "yes")
	t.Setenv("LOCAL_MODEL_PATH", "/models/college.gguf")
	t.Setenv("LOCAL_DEVICE", "CPU")
	t.Setenv("GENERATION_TIMEOUT", "30s")
	t.Setenv("CLEANER_PARAGRAPH_LIMIT", "800")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.UseLocalModel {
		t.Fatalf("UseLocalModel = false, want true")
	}
	if cfg.LocalModelPath != "/models/college.gguf" {
		t.Fatalf("LocalModelPath = %q, want explicit value", cfg.LocalModelPath)
	}
	if cfg.LocalDevice != "cpu" {
		t.Fatalf("LocalDevice = %q, want cpu", cfg.LocalDevice)
	}
	if cfg.GenerationTimeout != 30*time.Second {
		t.Fatalf("GenerationTimeout = %v, want 30s", cfg.GenerationTimeout)
	}
	if cfg.CleanerParagraphLimit != 800 {
		t.Fatalf("CleanerParagraphLimit = %d, want 800", cfg.CleanerParagraphLimit)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		key   string
		value string
	}{
		{"USE_LOCAL_MODEL", "maybe"},
		{"GENERATION_TIMEOUT", "soon"},
		{"GENERATION_TIMEOUT", "0s"},
		{"RAG_TOP_K", "0"},
		{"LOCAL_MAX_CONCURRENCY", "-1"},
		{"CLEANER_PARAGRAPH_LIMIT", "abc"},
		{"LOCAL_DEVICE", "tpu"},
	}
	for _, tc := range cases {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() error = nil, want error for %s=%q", tc.key, tc.value)
			}
		})
	}
}

func TestLoadReadsConfigFileUnderEnv(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "collegegpt.yaml")
	body := "GROQ_MODEL: llama-3.3-70b-versatile\nrag_top_k: 5\nAPP_BIND_ADDR: \":7000\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("APP_CONFIG_FILE", path)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GroqModel != "llama-3.3-70b-versatile" {
		t.Fatalf("GroqModel = %q, want value from file", cfg.GroqModel)
	}
	if cfg.RAGTopK != 5 {
		t.Fatalf("RAGTopK = %d, want 5 from file", cfg.RAGTopK)
	}
	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want env to win over file", cfg.BindAddr)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want missing file error")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_CONFIG_FILE",
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_REDACT_PII",
		"USE_LOCAL_MODEL",
		"LOCAL_MODEL_PATH",
		"LOCAL_LLAMA_CLI",
		"LOCAL_DEVICE",
		"LOCAL_GPU_LAYERS",
		"LOCAL_MAX_CONCURRENCY",
		"GROQ_API_KEY",
		"GROQ_BASE_URL",
		"GROQ_MODEL",
		"GENERATION_TIMEOUT",
		"CLEANER_PARAGRAPH_LIMIT",
		"RAG_TOP_K",
		"DOCS_DIR",
		"HISTORY_FETCH_LIMIT",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
