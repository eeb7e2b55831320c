// Package embedder computes vector embeddings for the documented entities of
// a merged index.
//
// Providers:
//   - local: offline feature hashing, deterministic, no credentials
//   - openai, jina: any OpenAI-compatible /embeddings endpoint; a custom base
//     URL points the openai provider at a self-hosted model server
//   - genai: the Gemini embedding API
//
// Remote calls are batched, retried with exponential backoff and cached in an
// LRU keyed by provider, model and content hash.
//
// # Stage usage
//
//	emb, err := embedder.New(ctx, embedder.Config{Provider: "local"})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	art, err := embedder.Compute(ctx, emb, merged, embedder.ComputeOptions{})
//	if errors.Is(err, types.ErrEmbeddingService) {
//	    // no partial artifact was produced
//	}
//
// Compute validates that every requested vector came back, that all share
// one dimension and that no component is NaN or infinite.
package embedder
