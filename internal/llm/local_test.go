package llm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// echoGenerator mimics a completion model: it returns the prompt followed by reply.
type echoGenerator struct {
	reply string
	err   error

	mu       sync.Mutex
	prompts  []string
	sampling []Sampling
}

func (g *echoGenerator) GenerateText(_ context.Context, prompt string, sampling Sampling) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.sampling = append(g.sampling, sampling)
	g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	return prompt + g.reply, nil
}

func TestLocalGenerateStripsEchoAndCleans(t *testing.T) {
	gen := &echoGenerator{reply: " It opens at 9am.\n\nQuestion: Anything else?"}
	b := NewLocalBackendWithGenerator(gen, LocalConfig{})

	got, err := b.Generate(context.Background(), Request{Query: "When does the library open?"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "It opens at 9am." {
		t.Fatalf("Generate() = %q, want %q", got, "It opens at 9am.")
	}
	if len(gen.prompts) != 1 || !strings.HasSuffix(gen.prompts[0], "Question: When does the library open?\nAnswer:") {
		t.Fatalf("prompt = %q", gen.prompts)
	}
	if !reflect.DeepEqual(gen.sampling[0], LocalSampling) {
		t.Fatalf("sampling = %+v, want %+v", gen.sampling[0], LocalSampling)
	}
}

func TestLocalStreamThreeWords(t *testing.T) {
	b := NewLocalBackendWithGenerator(&echoGenerator{reply: " It opens soon"}, LocalConfig{})

	var fragments []string
	full, err := b.GenerateStream(context.Background(), Request{Query: "q"}, func(fragment string) error {
		fragments = append(fragments, fragment)
		return nil
	})
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}
	want := []string{"It ", "opens ", "soon"}
	if !reflect.DeepEqual(fragments, want) {
		t.Fatalf("fragments = %q, want %q", fragments, want)
	}
	if full != "It opens soon" {
		t.Fatalf("GenerateStream() = %q", full)
	}
}

func TestLocalStreamConcatenationMatchesGenerate(t *testing.T) {
	replies := []string{
		" It opens at 9am.",
		" Answer: Registration closes Friday.\n\nBring your ID card.",
		" The dean's office\tis in Hall B.",
	}
	for _, reply := range replies {
		b := NewLocalBackendWithGenerator(&echoGenerator{reply: reply}, LocalConfig{})
		req := Request{Query: "q", Context: "ctx", History: makeHistory(4)}

		want, err := b.Generate(context.Background(), req)
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		var joined strings.Builder
		full, err := b.GenerateStream(context.Background(), req, func(fragment string) error {
			joined.WriteString(fragment)
			return nil
		})
		if err != nil {
			t.Fatalf("GenerateStream() error = %v", err)
		}
		if joined.String() != want || full != want {
			t.Fatalf("stream %q (returned %q) != generate %q", joined.String(), full, want)
		}
	}
}

func TestLocalStreamHandlerErrorAborts(t *testing.T) {
	b := NewLocalBackendWithGenerator(&echoGenerator{reply: " one two three"}, LocalConfig{})
	stop := errors.New("client gone")

	calls := 0
	_, err := b.GenerateStream(context.Background(), Request{Query: "q"}, func(string) error {
		calls++
		if calls == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("error = %v, want handler error", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestLocalGenerateEmptyOutputIsGenerationError(t *testing.T) {
	b := NewLocalBackendWithGenerator(&echoGenerator{reply: "\nQuestion: next?"}, LocalConfig{})
	_, err := b.Generate(context.Background(), Request{Query: "q"})

	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("error = %v, want GenerationError", err)
	}
	if !errors.Is(err, ErrEmptyResult) {
		t.Fatalf("error = %v, want ErrEmptyResult", err)
	}
	if genErr.Backend != ModeLocal {
		t.Fatalf("Backend = %q, want local", genErr.Backend)
	}
}

func TestLocalGenerateRuntimeFailure(t *testing.T) {
	b := NewLocalBackendWithGenerator(&echoGenerator{err: errors.New("out of memory")}, LocalConfig{})
	_, err := b.Generate(context.Background(), Request{Query: "q"})

	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("error = %v, want GenerationError", err)
	}
	if genErr.Retryable {
		t.Fatalf("Retryable = true, want false for model runtime failure")
	}
}

type blockingGenerator struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (g *blockingGenerator) GenerateText(_ context.Context, prompt string, _ Sampling) (string, error) {
	n := g.inFlight.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	g.inFlight.Add(-1)
	return prompt + " ok", nil
}

func TestLocalGenerateBoundsConcurrency(t *testing.T) {
	gen := &blockingGenerator{}
	b := NewLocalBackendWithGenerator(gen, LocalConfig{MaxConcurrency: 1})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := b.Generate(context.Background(), Request{Query: "q"}); err != nil {
				t.Errorf("Generate() error = %v", err)
			}
		}()
	}
	wg.Wait()
	if peak := gen.peak.Load(); peak != 1 {
		t.Fatalf("peak concurrent generations = %d, want 1", peak)
	}
}

func TestLocalGenerateHonorsCanceledContextWhileWaiting(t *testing.T) {
	b := NewLocalBackendWithGenerator(&echoGenerator{reply: " ok"}, LocalConfig{MaxConcurrency: 1})
	if err := b.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer b.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := b.Generate(ctx, Request{Query: "q"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want context.DeadlineExceeded", err)
	}
}

func TestResolveModelFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := resolveModelFile(filepath.Join(dir, "missing")); !IsConfigurationError(err) {
		t.Fatalf("missing path error = %v, want ConfigurationError", err)
	}
	if _, err := resolveModelFile(dir); !IsConfigurationError(err) {
		t.Fatalf("empty dir error = %v, want ConfigurationError", err)
	}

	model := filepath.Join(dir, "college-q4.gguf")
	if err := os.WriteFile(model, []byte("gguf"), 0o600); err != nil {
		t.Fatalf("write model: %v", err)
	}
	got, err := resolveModelFile(dir)
	if err != nil {
		t.Fatalf("resolveModelFile(dir) error = %v", err)
	}
	if got != model {
		t.Fatalf("resolveModelFile(dir) = %q, want %q", got, model)
	}
	if got, err := resolveModelFile(model); err != nil || got != model {
		t.Fatalf("resolveModelFile(file) = %q, %v", got, err)
	}
}

func TestResolveDevice(t *testing.T) {
	for _, in := range []string{"cpu", "CPU"} {
		if got, err := resolveDevice(in); err != nil || got != DeviceCPU {
			t.Fatalf("resolveDevice(%q) = %q, %v", in, got, err)
		}
	}
	if got, err := resolveDevice("cuda"); err != nil || got != DeviceCUDA {
		t.Fatalf("resolveDevice(cuda) = %q, %v", got, err)
	}
	if got, err := resolveDevice("auto"); err != nil || (got != DeviceCPU && got != DeviceCUDA) {
		t.Fatalf("resolveDevice(auto) = %q, %v", got, err)
	}
	if _, err := resolveDevice("tpu"); !IsConfigurationError(err) {
		t.Fatalf("resolveDevice(tpu) error = %v, want ConfigurationError", err)
	}
}

func TestLlamaCLIArgs(t *testing.T) {
	cli := NewLlamaCLI("/bin/llama-cli", "/models/m.gguf", 99)
	args := strings.Join(cli.args("Question: q\nAnswer:", LocalSampling), " ")
	for _, want := range []string{"-m /models/m.gguf", "-n 512", "--top-p 0.9", "--temp 0.7", "-ngl 99", "--no-display-prompt"} {
		if !strings.Contains(args, want) {
			t.Fatalf("args %q missing %q", args, want)
		}
	}
}

func TestLlamaCLIReportsMissingBinary(t *testing.T) {
	cli := NewLlamaCLI(filepath.Join(t.TempDir(), "no-such-llama"), "m.gguf", 0)
	if _, err := cli.GenerateText(context.Background(), "p", LocalSampling); err == nil {
		t.Fatalf("GenerateText() error = nil, want exec failure")
	}
}

// fakeLlamaCLI writes a shell script that prints output the way llama-cli
// does: the detokenized prompt unless --no-display-prompt is passed, the
// continuation, the end-of-text marker, and perf logs on stderr.
func fakeLlamaCLI(t *testing.T, continuation string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script binary")
	}
	script := `#!/bin/sh
quiet=""
for a in "$@"; do
  if [ "$a" = "--no-display-prompt" ]; then quiet=1; fi
done
if [ -z "$quiet" ]; then printf ' Context from college documents: echoed prompt'; fi
printf '%s [end of text]\n\n' "` + continuation + `"
printf 'llama_perf_context_print:        load time =     10.00 ms\n' >&2
`
	path := filepath.Join(t.TempDir(), "llama-cli")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake llama-cli: %v", err)
	}
	return path
}

func TestLlamaCLIPrependsPromptAndTrimsEndOfText(t *testing.T) {
	cli := NewLlamaCLI(fakeLlamaCLI(t, " It opens at 9am."), "m.gguf", 0)
	prompt := "Question: When does the library open?\nAnswer:"

	out, err := cli.GenerateText(context.Background(), prompt, LocalSampling)
	if err != nil {
		t.Fatalf("GenerateText() error = %v", err)
	}
	if want := prompt + " It opens at 9am."; out != want {
		t.Fatalf("GenerateText() = %q, want %q", out, want)
	}
}

func TestLocalBackendOverLlamaCLIReturnsCleanAnswer(t *testing.T) {
	cli := NewLlamaCLI(fakeLlamaCLI(t, " It opens at 9am."), "m.gguf", 0)
	b := NewLocalBackendWithGenerator(cli, LocalConfig{})

	got, err := b.Generate(context.Background(), Request{
		Query:   "When does the library open?",
		Context: "Question: what are the library hours? The library opens at 9am.",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "It opens at 9am." {
		t.Fatalf("Generate() = %q, want %q", got, "It opens at 9am.")
	}
}

func TestTrimEndOfText(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{" It opens. [end of text]\n\n", " It opens."},
		{" It opens.\n", " It opens.\n"},
		{"[end of text]", ""},
	}
	for _, tc := range cases {
		if got := trimEndOfText(tc.in); got != tc.want {
			t.Fatalf("trimEndOfText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
