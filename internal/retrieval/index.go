package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// ErrNoDocuments reports that an ingest found nothing to index.
var ErrNoDocuments = errors.New("no documents found")

var unicodeWordRe = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// Result is one scored chunk.
type Result struct {
	Chunk
	Score float64 `json:"score"`
}

// Index is an in-memory lexical index over ingested college documents.
type Index struct {
	chunker *SentenceChunker

	mu        sync.RWMutex
	chunks    []Chunk
	tokens    []map[string]struct{}
	documents int
}

func NewIndex() *Index {
	return &Index{chunker: NewSentenceChunker(5, 1)}
}

// Ingest replaces the index with the .txt and .md files found under dir.
// It returns the number of documents indexed.
func (x *Index) Ingest(ctx context.Context, dir string) (int, error) {
	var (
		chunks []Chunk
		docs   int
	)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".txt", ".md":
		default:
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		docChunks := x.chunker.Chunk(filepath.ToSlash(rel), string(data))
		if len(docChunks) == 0 {
			return nil
		}
		chunks = append(chunks, docChunks...)
		docs++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ingest %s: %w", dir, err)
	}
	if docs == 0 {
		return 0, ErrNoDocuments
	}

	tokens := make([]map[string]struct{}, len(chunks))
	for i, ch := range chunks {
		tokens[i] = toTokenSet(ch.Text)
	}

	x.mu.Lock()
	x.chunks, x.tokens, x.documents = chunks, tokens, docs
	x.mu.Unlock()
	return docs, nil
}

// Add indexes a single in-memory document alongside the current contents,
// replacing any chunks previously indexed under the same document id. It
// returns the number of chunks indexed.
func (x *Index) Add(documentID, content string) int {
	chunks := x.chunker.Chunk(documentID, content)
	x.mu.Lock()
	defer x.mu.Unlock()

	replaced := false
	keptChunks := x.chunks[:0:0]
	keptTokens := x.tokens[:0:0]
	for i, ch := range x.chunks {
		if ch.DocumentID == documentID {
			replaced = true
			continue
		}
		keptChunks = append(keptChunks, ch)
		keptTokens = append(keptTokens, x.tokens[i])
	}
	if replaced {
		x.documents--
	}
	for _, ch := range chunks {
		keptChunks = append(keptChunks, ch)
		keptTokens = append(keptTokens, toTokenSet(ch.Text))
	}
	if len(chunks) > 0 {
		x.documents++
	}
	x.chunks, x.tokens = keptChunks, keptTokens
	return len(chunks)
}

// Search returns the k best chunks by Ochiai token overlap, best first.
func (x *Index) Search(query string, k int) []Result {
	if k <= 0 {
		k = 3
	}
	qset := toTokenSet(query)

	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Result, 0, len(x.chunks))
	for i, ch := range x.chunks {
		out = append(out, Result{Chunk: ch, Score: ochiai(qset, x.tokens[i])})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if k > len(out) {
		k = len(out)
	}
	return out[:k]
}

// Context joins the matching chunk texts for prompt injection. It returns
// an empty string when nothing matches.
func (x *Index) Context(ctx context.Context, query string, k int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var parts []string
	for _, r := range x.Search(query, k) {
		if r.Score <= 0 {
			continue
		}
		parts = append(parts, r.Text)
	}
	return strings.Join(parts, "\n\n"), nil
}

// Clear drops every indexed chunk.
func (x *Index) Clear() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.chunks, x.tokens, x.documents = nil, nil, 0
}

// Stats reports the number of documents and chunks indexed.
func (x *Index) Stats() (documents, chunks int) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.documents, len(x.chunks)
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

// ochiai is |A∩B| / sqrt(|A||B|).
func ochiai(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(a))*float64(len(b)))
}
