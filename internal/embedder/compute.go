package embedder

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/scenariogen/internal/chunker"
	"github.com/dshills/scenariogen/pkg/types"
)

// ComputeOptions tunes the embedding stage.
type ComputeOptions struct {
	BatchSize   int
	Concurrency int
	Logger      *zap.Logger
}

func (o *ComputeOptions) defaults() {
	if o.BatchSize <= 0 || o.BatchSize > MaxBatchSize {
		o.BatchSize = DefaultBatchSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Compute embeds every documented entity of merged. Any provider failure or
// malformed response fails the whole stage with an EmbeddingServiceError; a
// partial artifact is never returned.
func Compute(ctx context.Context, emb Embedder, merged *types.MergedIndex, opts ComputeOptions) (*types.EmbeddingsArtifact, error) {
	opts.defaults()
	fail := func(err error) error {
		return types.NewStageError(types.StageEmbed, merged.Target, types.ErrEmbeddingService, err)
	}

	indexHash, err := merged.Hash()
	if err != nil {
		return nil, fail(err)
	}
	chunks, err := chunker.New().ChunkIndex(merged)
	if err != nil {
		return nil, fail(err)
	}

	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for start := 0; start < len(chunks); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, c := range chunks[start:end] {
				texts = append(texts, c.Content)
			}
			resp, err := emb.GenerateBatch(gctx, BatchEmbeddingRequest{Texts: texts})
			if err != nil {
				return err
			}
			if len(resp.Embeddings) != len(texts) {
				return fmt.Errorf("%w: requested %d embeddings, got %d", ErrMalformedVector, len(texts), len(resp.Embeddings))
			}
			for i, e := range resp.Embeddings {
				vectors[start+i] = e.Vector
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fail(err)
	}

	dim, err := validateVectors(chunks, vectors, emb.Dimension())
	if err != nil {
		return nil, fail(err)
	}

	out := &types.EmbeddingsArtifact{
		Provider:  emb.Provider(),
		Model:     emb.Model(),
		Dimension: dim,
		IndexHash: indexHash,
		Vectors:   make(map[string][]float32, len(chunks)),
	}
	for i, c := range chunks {
		out.Vectors[c.QualifiedName] = vectors[i]
	}
	opts.Logger.Debug("embeddings computed",
		zap.String("target", merged.Target),
		zap.String("provider", out.Provider),
		zap.Int("documents", len(chunks)),
		zap.Int("dimension", dim))
	return out, nil
}

// validateVectors checks every vector is present, finite and of one
// dimension, which must equal want when want is known.
func validateVectors(chunks []*types.Chunk, vectors [][]float32, want int) (int, error) {
	dim := want
	for i, v := range vectors {
		name := chunks[i].QualifiedName
		if len(v) == 0 {
			return 0, fmt.Errorf("%w: empty vector for %s", ErrMalformedVector, name)
		}
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim {
			return 0, fmt.Errorf("%w: %s has dimension %d, want %d", ErrMalformedVector, name, len(v), dim)
		}
		for _, x := range v {
			if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
				return 0, fmt.Errorf("%w: non-finite component for %s", ErrMalformedVector, name)
			}
		}
	}
	return dim, nil
}
