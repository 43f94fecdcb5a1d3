package llm

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultParagraphLimit is the length above which a multi-paragraph answer is
// cut to its first paragraph.
const DefaultParagraphLimit = 500

// Cleaner post-processes local model output. It is a lossy heuristic and
// each step operates on the output of the previous one.
type Cleaner struct {
	ParagraphLimit int
}

// Clean keeps only the current answer out of raw local output.
func (c Cleaner) Clean(s string) string {
	// Removing a label can splice a new one out of its neighbours
	// ("AnsAnswer:wer:"), so the label steps run until nothing changes.
	for {
		next := s
		if idx := strings.Index(next, "Question:"); idx >= 0 {
			next = next[:idx]
		}
		next = strings.TrimSpace(strings.ReplaceAll(next, "Answer:", ""))
		if next == s {
			break
		}
		s = next
	}

	limit := c.ParagraphLimit
	if limit <= 0 {
		limit = DefaultParagraphLimit
	}
	if strings.Contains(s, "\n\n") && utf8.RuneCountInString(s) > limit {
		s = strings.SplitN(s, "\n\n", 2)[0]
	}
	return strings.TrimSpace(s)
}

var wordPattern = regexp.MustCompile(`\S+\s*`)

// splitWords turns a finished answer into simulated stream fragments: one per
// word, each carrying the whitespace that followed it, so the last fragment
// of a trimmed answer has none and the fragments concatenate back to text.
func splitWords(text string) []string {
	return wordPattern.FindAllString(strings.TrimSpace(text), -1)
}
