package llm

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// endOfText is the marker llama-cli prints when the model emits its EOS token.
const endOfText = "[end of text]"

// LlamaCLI runs the llama.cpp command line binary once per prompt. The binary
// is told not to echo the prompt; GenerateText prepends it itself so callers
// always see the exact prompt followed by the continuation.
type LlamaCLI struct {
	binaryPath string
	modelPath  string
	gpuLayers  int
}

func NewLlamaCLI(binaryPath, modelPath string, gpuLayers int) *LlamaCLI {
	return &LlamaCLI{
		binaryPath: strings.TrimSpace(binaryPath),
		modelPath:  strings.TrimSpace(modelPath),
		gpuLayers:  gpuLayers,
	}
}

func (l *LlamaCLI) GenerateText(ctx context.Context, prompt string, sampling Sampling) (string, error) {
	cmd := exec.CommandContext(ctx, l.binaryPath, l.args(prompt, sampling)...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			// exec.CommandContext may surface "signal: killed" instead of context cancellation.
			return "", ctx.Err()
		}
		errText := strings.TrimSpace(stderr.String())
		if errText != "" {
			return "", fmt.Errorf("llama-cli failed: %w: %s", err, lastLine(errText))
		}
		return "", fmt.Errorf("llama-cli failed: %w", err)
	}
	return prompt + trimEndOfText(stdout.String()), nil
}

// trimEndOfText drops the trailing end-of-generation marker and the newline
// llama-cli writes after it.
func trimEndOfText(out string) string {
	trimmed := strings.TrimRight(out, " \t\r\n")
	if strings.HasSuffix(trimmed, endOfText) {
		return strings.TrimRight(strings.TrimSuffix(trimmed, endOfText), " \t\r\n")
	}
	return out
}

func (l *LlamaCLI) args(prompt string, sampling Sampling) []string {
	args := []string{
		"-m", l.modelPath,
		"-p", prompt,
		"-n", strconv.Itoa(sampling.MaxTokens),
		"--top-p", strconv.FormatFloat(sampling.TopP, 'f', -1, 64),
		"-ngl", strconv.Itoa(l.gpuLayers),
		"-no-cnv",
		"--no-display-prompt",
	}
	if sampling.DoSample {
		args = append(args, "--temp", strconv.FormatFloat(sampling.Temperature, 'f', -1, 64))
	} else {
		args = append(args, "--temp", "0")
	}
	return args
}

func lastLine(s string) string {
	if idx := strings.LastIndex(s, "\n"); idx >= 0 {
		return strings.TrimSpace(s[idx+1:])
	}
	return s
}
