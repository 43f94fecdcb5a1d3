package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the college assistant service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool
	RedactPII      bool

	UseLocalModel       bool
	LocalModelPath      string
	LocalLlamaCLI       string
	LocalDevice         string
	LocalGPULayers      int
	LocalMaxConcurrency int

	GroqAPIKey  string
	GroqBaseURL string
	GroqModel   string

	GenerationTimeout     time.Duration
	CleanerParagraphLimit int

	RAGTopK           int
	DocsDir           string
	HistoryFetchLimit int

	DatabaseURL string
}

// Load reads environment variables (and the optional APP_CONFIG_FILE) and applies safe defaults.
func Load() (Config, error) {
	src, err := newSource(os.Getenv("APP_CONFIG_FILE"))
	if err != nil {
		return Config{}, err
	}
	return load(src)
}

func load(src source) (Config, error) {
	cfg := Config{
		BindAddr:         src.orDefault("APP_BIND_ADDR", ":8000"),
		MetricsNamespace: src.orDefault("APP_METRICS_NAMESPACE", "collegegpt"),
		LocalModelPath:   src.orDefault("LOCAL_MODEL_PATH", "./trained_model/final_model"),
		LocalLlamaCLI:    src.orDefault("LOCAL_LLAMA_CLI", "llama-cli"),
		LocalDevice:      strings.ToLower(src.orDefault("LOCAL_DEVICE", "auto")),
		GroqAPIKey:       src.trimmed("GROQ_API_KEY"),
		GroqBaseURL:      src.orDefault("GROQ_BASE_URL", "https://api.groq.com/openai/v1/"),
		GroqModel:        src.orDefault("GROQ_MODEL", "llama-3.1-8b-instant"),
		DocsDir:          src.orDefault("DOCS_DIR", "./data"),
		DatabaseURL:      src.trimmed("DATABASE_URL"),

		AllowAnyOrigin:        true,
		LocalGPULayers:        99,
		LocalMaxConcurrency:   1,
		ShutdownTimeout:       15 * time.Second,
		GenerationTimeout:     120 * time.Second,
		CleanerParagraphLimit: 500,
		RAGTopK:               3,
		HistoryFetchLimit:     50,
	}

	var err error
	if cfg.ShutdownTimeout, err = src.duration("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.GenerationTimeout, err = src.duration("GENERATION_TIMEOUT", cfg.GenerationTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = src.boolean("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}
	if cfg.RedactPII, err = src.boolean("APP_REDACT_PII", cfg.RedactPII); err != nil {
		return Config{}, err
	}
	if cfg.UseLocalModel, err = src.boolean("USE_LOCAL_MODEL", cfg.UseLocalModel); err != nil {
		return Config{}, err
	}
	if cfg.LocalGPULayers, err = src.integer("LOCAL_GPU_LAYERS", cfg.LocalGPULayers); err != nil {
		return Config{}, err
	}
	if cfg.LocalMaxConcurrency, err = src.integer("LOCAL_MAX_CONCURRENCY", cfg.LocalMaxConcurrency); err != nil {
		return Config{}, err
	}
	if cfg.CleanerParagraphLimit, err = src.integer("CLEANER_PARAGRAPH_LIMIT", cfg.CleanerParagraphLimit); err != nil {
		return Config{}, err
	}
	if cfg.RAGTopK, err = src.integer("RAG_TOP_K", cfg.RAGTopK); err != nil {
		return Config{}, err
	}
	if cfg.HistoryFetchLimit, err = src.integer("HISTORY_FETCH_LIMIT", cfg.HistoryFetchLimit); err != nil {
		return Config{}, err
	}

	switch cfg.LocalDevice {
	case "auto", "cuda", "cpu":
	default:
		return Config{}, fmt.Errorf("LOCAL_DEVICE must be one of auto|cuda|cpu, got %q", cfg.LocalDevice)
	}
	if cfg.LocalGPULayers < 0 {
		return Config{}, fmt.Errorf("LOCAL_GPU_LAYERS must be >= 0")
	}
	if cfg.LocalMaxConcurrency <= 0 {
		return Config{}, fmt.Errorf("LOCAL_MAX_CONCURRENCY must be positive")
	}
	if cfg.CleanerParagraphLimit <= 0 {
		return Config{}, fmt.Errorf("CLEANER_PARAGRAPH_LIMIT must be positive")
	}
	if cfg.RAGTopK <= 0 {
		return Config{}, fmt.Errorf("RAG_TOP_K must be positive")
	}
	if cfg.HistoryFetchLimit <= 0 {
		return Config{}, fmt.Errorf("HISTORY_FETCH_LIMIT must be positive")
	}
	if cfg.GenerationTimeout <= 0 {
		return Config{}, fmt.Errorf("GENERATION_TIMEOUT must be positive")
	}

	return cfg, nil
}

// source resolves a key from the process environment first, then from the
// optional YAML file.
type source struct {
	file map[string]string
}

func newSource(path string) (source, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return source{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return source{}, fmt.Errorf("APP_CONFIG_FILE %s does not exist", path)
		}
		return source{}, fmt.Errorf("read APP_CONFIG_FILE: %w", err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return source{}, fmt.Errorf("parse APP_CONFIG_FILE %s: %w", path, err)
	}
	file := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		file[strings.ToUpper(strings.TrimSpace(k))] = fmt.Sprint(v)
	}
	return source{file: file}, nil
}

func (s source) get(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.file[key]
}

func (s source) orDefault(key, fallback string) string {
	v := s.trimmed(key)
	if v == "" {
		return fallback
	}
	return v
}

func (s source) trimmed(key string) string {
	return strings.TrimSpace(s.get(key))
}

func (s source) duration(key string, fallback time.Duration) (time.Duration, error) {
	v := s.trimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func (s source) integer(key string, fallback int) (int, error) {
	v := s.trimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func (s source) boolean(key string, fallback bool) (bool, error) {
	v := strings.ToLower(s.trimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
