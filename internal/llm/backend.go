package llm

import "context"

// Mode identifies which generation backend variant is active.
type Mode string

const (
	ModeRemote Mode = "remote"
	ModeLocal  Mode = "local"
)

// Role tags a chat turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged message of a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the backend-agnostic input of one generation call.
// Context is retrieved supporting text; empty means none.
type Request struct {
	Query   string
	Context string
	History []Turn
}

// Info describes the active backend for status endpoints.
type Info struct {
	Mode   Mode   `json:"type"`
	Model  string `json:"model,omitempty"`
	Device string `json:"device,omitempty"`
	Path   string `json:"path,omitempty"`
}

// FragmentHandler receives streamed response fragments in generation order.
type FragmentHandler func(fragment string) error

// Backend generates answers for a prompt built from a Request.
//
// GenerateStream emits every fragment to onFragment and returns their
// concatenation. A non-nil error from onFragment aborts the stream.
type Backend interface {
	Mode() Mode
	Info() Info
	Generate(ctx context.Context, req Request) (string, error)
	GenerateStream(ctx context.Context, req Request, onFragment FragmentHandler) (string, error)
}

// tailTurns returns the newest n turns in their original order.
func tailTurns(history []Turn, n int) []Turn {
	if n <= 0 || len(history) == 0 {
		return nil
	}
	if len(history) > n {
		history = history[len(history)-n:]
	}
	out := make([]Turn, len(history))
	copy(out, history)
	return out
}
