package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrBatchTooLarge     = errors.New("batch size exceeds limit")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
	ErrMalformedVector   = errors.New("malformed embedding vector")
)

// Embedding is one vector together with the model space it belongs to.
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
}

// EmbeddingRequest asks for the vector of a single document.
type EmbeddingRequest struct {
	Text string
}

// BatchEmbeddingRequest asks for one vector per text.
type BatchEmbeddingRequest struct {
	Texts []string
}

// BatchEmbeddingResponse carries vectors in request order.
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Embedder is the external embedding service. Vectors of different
// providers or models are never comparable.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)
	// GenerateBatch returns one embedding per text, in order.
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)
	// Dimension is 0 when the provider only learns it from a response.
	Dimension() int
	Provider() string
	Model() string
	Close() error
}

// DefaultCacheSize bounds a Cache created with a non-positive size.
const DefaultCacheSize = 10000

// Cache remembers vectors by provider, model and document hash. A nil
// *Cache is valid and never hits.
type Cache struct {
	vectors *lru.Cache[string, []float32]
}

// NewCache creates a cache holding up to size vectors.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	vectors, err := lru.New[string, []float32](size)
	if err != nil {
		panic(fmt.Sprintf("embedding cache: %v", err))
	}
	return &Cache{vectors: vectors}
}

// Get returns a private copy of the vector stored under key.
func (c *Cache) Get(key string) (*Embedding, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.vectors.Get(key)
	if !ok {
		return nil, false
	}
	return &Embedding{Vector: append([]float32(nil), v...), Dimension: len(v)}, true
}

// Set stores the vector of emb under key.
func (c *Cache) Set(key string, emb *Embedding) {
	if c == nil || emb == nil {
		return
	}
	c.vectors.Add(key, append([]float32(nil), emb.Vector...))
}

// Size is the number of cached vectors.
func (c *Cache) Size() int {
	if c == nil {
		return 0
	}
	return c.vectors.Len()
}

// cacheKey scopes a document hash to one model space.
func cacheKey(provider, model, text string) string {
	return provider + "/" + model + "/" + ComputeHash(text)
}

// ComputeHash is the hex SHA-256 of text.
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// ValidateRequest rejects an empty document.
func ValidateRequest(req EmbeddingRequest) error {
	if req.Text == "" {
		return ErrEmptyText
	}
	return nil
}

// ValidateBatchRequest rejects an empty batch or any empty document in it.
func ValidateBatchRequest(req BatchEmbeddingRequest) error {
	if len(req.Texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}
	for i, text := range req.Texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}
	return nil
}

// generateOne serves a single request through a provider's batch path.
func generateOne(ctx context.Context, e Embedder, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	resp, err := e.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrProviderFailed)
	}
	return resp.Embeddings[0], nil
}

// cachedBatch answers what it can from cache, calls fetch for the rest and
// caches the fetched vectors.
func cachedBatch(cache *Cache, provider, model string, texts []string,
	fetch func(missing []string) ([][]float32, error)) ([]*Embedding, error) {

	out := make([]*Embedding, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if emb, ok := cache.Get(cacheKey(provider, model, text)); ok {
			emb.Provider, emb.Model = provider, model
			out[i] = emb
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := fetch(missing)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, fmt.Errorf("%w: requested %d embeddings, got %d", ErrProviderFailed, len(missing), len(vectors))
	}
	for j, vec := range vectors {
		emb := &Embedding{Vector: vec, Dimension: len(vec), Provider: provider, Model: model}
		cache.Set(cacheKey(provider, model, missing[j]), emb)
		out[missingIdx[j]] = emb
	}
	return out, nil
}
