package embedder

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GenAIProvider implements Embedder using the Gemini embedding API.
type GenAIProvider struct {
	client *genai.Client
	model  string
	cache  *Cache
	retry  RetryConfig
}

// NewGenAIProvider creates a Gemini embedder.
func NewGenAIProvider(ctx context.Context, apiKey, model string, cache *Cache) (*GenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvGeminiAPIKey)
	}
	if model == "" {
		model = DefaultGenAIModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIProvider{client: client, model: model, cache: cache, retry: DefaultRetryConfig()}, nil
}

func (g *GenAIProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return generateOne(ctx, g, req)
}

func (g *GenAIProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	embeddings, err := cachedBatch(g.cache, ProviderGenAI, g.model, req.Texts, func(missing []string) ([][]float32, error) {
		vectors, err := retryWithBackoff(ctx, g.retry, func() ([][]float32, error) {
			return g.embed(ctx, missing)
		})
		if err != nil {
			return nil, fmt.Errorf("%w after %d attempts: %v", ErrProviderFailed, g.retry.MaxRetries, err)
		}
		return vectors, nil
	})
	if err != nil {
		return nil, err
	}
	return &BatchEmbeddingResponse{Embeddings: embeddings, Provider: ProviderGenAI, Model: g.model}, nil
}

func (g *GenAIProvider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	result, err := g.client.Models.EmbedContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}
	vectors := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		vectors[i] = emb.Values
	}
	return vectors, nil
}

// Dimension is learned from the first response.
func (g *GenAIProvider) Dimension() int   { return 0 }
func (g *GenAIProvider) Provider() string { return ProviderGenAI }
func (g *GenAIProvider) Model() string    { return g.model }
func (g *GenAIProvider) Close() error     { return nil }
