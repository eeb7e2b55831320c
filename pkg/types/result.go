package types

// SearchResult is one ranked entity of a symbol search.
type SearchResult struct {
	Rank int // 1-based

	RelevanceScore float64 // fused score in [0,1]
	VectorScore    float64 // cosine similarity, 0 when not ranked semantically
	TextScore      float64 // name match fraction, 0 when not ranked lexically

	Entity *EntityRecord
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	if sr.RelevanceScore < 0 || sr.RelevanceScore > 1 {
		return ErrInvalidRelevanceScore
	}

	if sr.Entity == nil {
		return ErrMissingEntity
	}

	return sr.Entity.Validate()
}
