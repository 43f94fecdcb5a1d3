package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/semaphore"
)

const (
	DeviceAuto = "auto"
	DeviceCUDA = "cuda"
	DeviceCPU  = "cpu"
)

// Sampling holds the decoding parameters passed to a TextGenerator.
type Sampling struct {
	Temperature  float64
	TopP         float64
	MaxTokens    int
	DoSample     bool
	NumSequences int
}

// LocalSampling is the fixed decoding policy of the local backend.
var LocalSampling = Sampling{
	Temperature:  0.7,
	TopP:         0.9,
	MaxTokens:    512,
	DoSample:     true,
	NumSequences: 1,
}

// TextGenerator continues a flat prompt. Output includes the echoed prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string, sampling Sampling) (string, error)
}

// LocalConfig controls construction of the local backend.
type LocalConfig struct {
	ModelPath      string
	LlamaCLI       string
	Device         string
	GPULayers      int
	MaxConcurrency int
	Cleaner        Cleaner
}

// LocalBackend answers with a locally hosted model. It has no incremental
// decoding, so streaming is simulated from the finished answer.
type LocalBackend struct {
	gen       TextGenerator
	cleaner   Cleaner
	sem       *semaphore.Weighted
	modelPath string
	device    string
}

// NewLocalBackend resolves the device and model artifact, then binds a llama.cpp runner.
func NewLocalBackend(cfg LocalConfig) (*LocalBackend, error) {
	modelFile, err := resolveModelFile(cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	device, err := resolveDevice(cfg.Device)
	if err != nil {
		return nil, err
	}

	binary := strings.TrimSpace(cfg.LlamaCLI)
	if binary == "" {
		binary = "llama-cli"
	}
	resolved, err := exec.LookPath(binary)
	if err != nil {
		return nil, &ConfigurationError{Backend: ModeLocal, Reason: fmt.Sprintf("llama.cpp binary %q not found", binary), Err: err}
	}

	gpuLayers := 0
	if device == DeviceCUDA {
		gpuLayers = cfg.GPULayers
	}
	runner := NewLlamaCLI(resolved, modelFile, gpuLayers)
	return newLocalBackend(runner, cfg, modelFile, device), nil
}

// NewLocalBackendWithGenerator binds an existing TextGenerator, skipping artifact resolution.
func NewLocalBackendWithGenerator(gen TextGenerator, cfg LocalConfig) *LocalBackend {
	device := cfg.Device
	if device == "" || device == DeviceAuto {
		device = DeviceCPU
	}
	return newLocalBackend(gen, cfg, cfg.ModelPath, device)
}

func newLocalBackend(gen TextGenerator, cfg LocalConfig, modelPath, device string) *LocalBackend {
	n := cfg.MaxConcurrency
	if n <= 0 {
		n = 1
	}
	return &LocalBackend{
		gen:       gen,
		cleaner:   cfg.Cleaner,
		sem:       semaphore.NewWeighted(int64(n)),
		modelPath: modelPath,
		device:    device,
	}
}

func (b *LocalBackend) Mode() Mode { return ModeLocal }

func (b *LocalBackend) Info() Info {
	return Info{Mode: ModeLocal, Device: b.device, Path: b.modelPath}
}

func (b *LocalBackend) Generate(ctx context.Context, req Request) (string, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer b.sem.Release(1)

	prompt := BuildLocalPrompt(req)
	raw, err := b.gen.GenerateText(ctx, prompt, LocalSampling)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", generationError(ModeLocal, err)
	}
	text := b.cleaner.Clean(stripEcho(raw, prompt))
	if text == "" {
		return "", generationError(ModeLocal, ErrEmptyResult)
	}
	return text, nil
}

// GenerateStream computes the full answer before the first fragment, so
// first-fragment latency equals total generation time.
func (b *LocalBackend) GenerateStream(ctx context.Context, req Request, onFragment FragmentHandler) (string, error) {
	text, err := b.Generate(ctx, req)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for _, fragment := range splitWords(text) {
		if err := ctx.Err(); err != nil {
			return out.String(), err
		}
		out.WriteString(fragment)
		if onFragment != nil {
			if err := onFragment(fragment); err != nil {
				return out.String(), err
			}
		}
	}
	return out.String(), nil
}

// resolveDevice maps auto to cuda when an NVIDIA driver is visible, cpu otherwise.
func resolveDevice(device string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(device)) {
	case "", DeviceAuto:
		if _, err := exec.LookPath("nvidia-smi"); err == nil {
			return DeviceCUDA, nil
		}
		return DeviceCPU, nil
	case DeviceCUDA:
		return DeviceCUDA, nil
	case DeviceCPU:
		return DeviceCPU, nil
	default:
		return "", &ConfigurationError{Backend: ModeLocal, Reason: fmt.Sprintf("unsupported device %q", device)}
	}
}

// resolveModelFile accepts a .gguf file or a directory holding one.
func resolveModelFile(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", &ConfigurationError{Backend: ModeLocal, Reason: "model path is empty"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", &ConfigurationError{Backend: ModeLocal, Reason: fmt.Sprintf("model path %s does not exist", path), Err: err}
		}
		return "", &ConfigurationError{Backend: ModeLocal, Reason: "stat model path", Err: err}
	}
	if !info.IsDir() {
		return path, nil
	}

	matches, err := filepath.Glob(filepath.Join(path, "*.gguf"))
	if err != nil {
		return "", &ConfigurationError{Backend: ModeLocal, Reason: "scan model directory", Err: err}
	}
	if len(matches) == 0 {
		return "", &ConfigurationError{Backend: ModeLocal, Reason: fmt.Sprintf("no .gguf model in %s", path)}
	}
	sort.Strings(matches)
	return matches[0], nil
}
