package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockBackend provides deterministic replies when no model is reachable.
type MockBackend struct {
	mode Mode
}

func NewMockBackend(mode Mode) *MockBackend {
	if mode == "" {
		mode = ModeRemote
	}
	return &MockBackend{mode: mode}
}

func (b *MockBackend) Mode() Mode { return b.mode }

func (b *MockBackend) Info() Info {
	return Info{Mode: b.mode, Model: "mock"}
}

func (b *MockBackend) Generate(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return buildMockReply(req), nil
}

func (b *MockBackend) GenerateStream(ctx context.Context, req Request, onFragment FragmentHandler) (string, error) {
	text, err := b.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	for _, fragment := range splitWords(text) {
		out.WriteString(fragment)
		if onFragment != nil {
			if err := onFragment(fragment); err != nil {
				return out.String(), err
			}
		}
	}
	return out.String(), nil
}

func buildMockReply(req Request) string {
	base := strings.TrimSpace(req.Query)
	if base == "" {
		base = "I am listening."
	}
	if strings.TrimSpace(req.Context) == "" {
		return fmt.Sprintf("I heard you: %s", base)
	}
	return fmt.Sprintf("I heard you: %s\nFrom the documents: %s", base, firstLine(req.Context))
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return s
}
