// Package searcher ranks the declarations of a target against free-text
// queries and answers symbol lookups.
//
// The searchable state of a target is its latest merged index plus the
// embeddings computed from it, resolved through a Loader. StoreLoader reads
// both from the target head recorded by the pipeline.
//
// # Search Modes
//
//   - Hybrid (default): cosine similarity over entity embeddings and lexical
//     name matching, merged with Reciprocal Rank Fusion. A target without
//     embeddings degrades to lexical ranking.
//   - Vector: embeddings only. The query is embedded with the same provider
//     and model as the index; a mismatch is ErrModelMismatch.
//   - Keyword: the fraction of query identifiers found in an entity's name,
//     qualified name or operation names.
//
// # Basic Usage
//
//	s := searcher.NewSearcher(searcher.NewStoreLoader(db, store, 8), emb, 256)
//
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Target: "box",
//	    Query:  "add fruit to a box",
//	    Limit:  10,
//	})
//	for _, r := range resp.Results {
//	    fmt.Printf("[%d] %s (score: %.2f)\n", r.Rank, r.Entity.QualifiedName, r.RelevanceScore)
//	}
//
// # Symbol Lookups
//
// SearchByName matches names case-insensitively, GetSymbol resolves a
// qualified name (a method yields one symbol per overload) and
// GetClassMethods lists a type's constructors and methods.
//
// # Caching
//
// Responses are kept in an LRU keyed by the request and the index version,
// so a rebuilt target never serves stale results.
package searcher
