package types

import (
	"crypto/sha256"
	"errors"
)

// Chunk is the text submitted to the embedding service for one documented
// entity.
type Chunk struct {
	QualifiedName string
	Kind          EntityKind

	Content     string
	ContentHash [32]byte
	TokenCount  int
}

// ComputeTokenCount estimates tokens as four bytes each.
func (c *Chunk) ComputeTokenCount() int {
	c.TokenCount = len(c.Content) / 4
	return c.TokenCount
}

// ComputeContentHash fills ContentHash from Content.
func (c *Chunk) ComputeContentHash() {
	c.ContentHash = sha256.Sum256([]byte(c.Content))
}

// Validate requires a named, hashed, non-empty chunk.
func (c *Chunk) Validate() error {
	switch {
	case c.QualifiedName == "":
		return errors.New("chunk entity name is required")
	case c.Content == "":
		return ErrEmptyContent
	case c.ContentHash == [32]byte{}:
		return errors.New("content hash must be computed")
	}
	return nil
}
