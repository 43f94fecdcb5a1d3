package llm

import "strings"

const (
	// RemoteHistoryTurns bounds the history tail sent to the remote backend.
	RemoteHistoryTurns = 5
	// LocalHistoryTurns bounds the history tail rendered into the local prompt.
	LocalHistoryTurns = 3
)

// Persona is the system instruction shared by the sync and streaming remote paths.
const Persona = "You are RizviGPT, an AI assistant with deep knowledge about the Rizvi College Of Engineering.\n" +
	"You have access to college documents, course materials, policies, and procedures.\n" +
	"Answer questions accurately based on the provided context. If you don't have enough information, say so.\n" +
	"Be helpful, concise, and student-friendly. Be very flexible and elaborate on your answers and do not just retrieve data from the context."

const remoteContextLabel = "\n\nRelevant context from college documents:\n"

// BuildRemoteMessages returns the chat message list for the remote backend:
// the system persona (with context when present), the newest history turns,
// then the query as a user message.
func BuildRemoteMessages(persona string, req Request) []Turn {
	system := persona
	if req.Context != "" {
		system += remoteContextLabel + req.Context
	}

	history := tailTurns(req.History, RemoteHistoryTurns)
	out := make([]Turn, 0, len(history)+2)
	out = append(out, Turn{Role: RoleSystem, Content: system})
	out = append(out, history...)
	out = append(out, Turn{Role: RoleUser, Content: req.Query})
	return out
}

// BuildLocalPrompt renders the flat completion prompt for the local model.
// The section order and labels match the format the local weights were tuned on.
func BuildLocalPrompt(req Request) string {
	lines := make([]string, 0, LocalHistoryTurns+5)
	if req.Context != "" {
		lines = append(lines, "Context from college documents:", req.Context, "")
	}
	for _, turn := range tailTurns(req.History, LocalHistoryTurns) {
		if turn.Role == RoleUser {
			lines = append(lines, "Question: "+turn.Content)
		} else {
			lines = append(lines, "Answer: "+turn.Content)
		}
	}
	lines = append(lines, "Question: "+req.Query, "Answer:")
	return strings.Join(lines, "\n")
}

// stripEcho removes the prompt a text generator echoes back before its answer.
func stripEcho(output, prompt string) string {
	if strings.HasPrefix(output, prompt) {
		return output[len(prompt):]
	}
	if idx := strings.Index(output, prompt); idx >= 0 {
		return output[idx+len(prompt):]
	}
	return output
}
