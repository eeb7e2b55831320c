package chunker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dshills/scenariogen/pkg/types"
)

const (
	// MaxTokensPerChunk is the target maximum token count per chunk
	MaxTokensPerChunk = 2000

	// TokensPerChar is the heuristic for estimating tokens (chars/4)
	TokensPerChar = 4
)

// Chunker renders embedding documents for entities.
type Chunker struct {
	maxTokens int
}

// New creates a new Chunker instance
func New() *Chunker {
	return &Chunker{maxTokens: MaxTokensPerChunk}
}

// ChunkIndex returns one chunk per documented entity of merged, ordered by
// qualified name. Undocumented entities are skipped.
func (c *Chunker) ChunkIndex(merged *types.MergedIndex) ([]*types.Chunk, error) {
	chunks := make([]*types.Chunk, 0, len(merged.Entities))
	for i := range merged.Entities {
		e := &merged.Entities[i]
		if !e.Documented() {
			continue
		}
		chunk := c.ChunkEntity(e)
		if err := chunk.Validate(); err != nil {
			return nil, fmt.Errorf("chunk for %s: %w", e.QualifiedName, err)
		}
		chunks = append(chunks, chunk)
	}
	sort.Slice(chunks, func(i, j int) bool {
		return chunks[i].QualifiedName < chunks[j].QualifiedName
	})
	return chunks, nil
}

// ChunkEntity renders the document for a single entity.
func (c *Chunker) ChunkEntity(e *types.EntityRecord) *types.Chunk {
	chunk := &types.Chunk{
		QualifiedName: e.QualifiedName,
		Kind:          e.Kind,
		Content:       c.truncate(Document(e)),
	}
	chunk.ComputeTokenCount()
	chunk.ComputeContentHash()
	return chunk
}

// Document renders an entity as labelled lines: kind, names, declaration,
// operations and documentation.
func Document(e *types.EntityRecord) string {
	var b strings.Builder
	line := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "%s: %s\n", label, value)
	}

	line("Symbol kind", string(e.Kind))
	line("Name", e.Name)
	line("Fully qualified name", e.QualifiedName)
	line("Namespace", e.Namespace)
	line("Signature", e.Signature())

	if e.Kind == types.KindType {
		for _, op := range e.Constructors() {
			line("Constructor", op.Signature())
		}
		for _, op := range e.Methods() {
			line("Method", op.Signature())
		}
	}

	if doc := strings.TrimSpace(e.Doc); doc != "" {
		b.WriteString("Comment:\n")
		b.WriteString(doc)
		b.WriteByte('\n')
	}
	return b.String()
}

// truncate keeps a document within the token budget, cutting at a line
// boundary when one is available.
func (c *Chunker) truncate(s string) string {
	limit := c.maxTokens * TokensPerChar
	if len(s) <= limit {
		return s
	}
	cut := s[:limit]
	if i := strings.LastIndexByte(cut, '\n'); i > 0 {
		cut = cut[:i+1]
	}
	return cut
}

// EstimateTokenCount estimates the number of tokens in a string
func EstimateTokenCount(text string) int {
	return len(text) / TokensPerChar
}
