package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/scenariogen/internal/embedder"
	"github.com/dshills/scenariogen/pkg/types"
)

// SearchMode defines how search is performed
type SearchMode string

const (
	SearchModeHybrid  SearchMode = "hybrid"  // Vector + lexical with RRF
	SearchModeVector  SearchMode = "vector"  // Vector similarity only
	SearchModeKeyword SearchMode = "keyword" // Name matching only
)

const (
	DefaultLimit       = 10
	MaxLimit           = 100
	DefaultRRFConstant = 60
	DefaultCacheSize   = 256
)

var (
	ErrEmptyQuery   = errors.New("query cannot be empty")
	ErrNoEmbeddings = errors.New("target has no embeddings")
	ErrNotIndexed   = errors.New("target not indexed")
	// ErrModelMismatch means the query embedder differs from the one that
	// produced the target's vectors, so similarities would be meaningless.
	ErrModelMismatch = errors.New("query embedder does not match indexed embeddings")
)

// SearchFilters narrows results.
type SearchFilters struct {
	Kinds           []types.EntityKind
	NamespacePrefix string
}

func (f *SearchFilters) match(e *types.EntityRecord) bool {
	if f == nil {
		return true
	}
	if len(f.Kinds) > 0 {
		ok := false
		for _, k := range f.Kinds {
			if e.Kind == k {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.NamespacePrefix != "" {
		prefix := strings.TrimSuffix(f.NamespacePrefix, "::")
		if e.Namespace != prefix && !strings.HasPrefix(e.Namespace, prefix+"::") {
			return false
		}
	}
	return true
}

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Target      string
	Query       string
	Limit       int
	Mode        SearchMode
	Filters     *SearchFilters
	UseCache    bool
	RRFConstant float64 // k value for Reciprocal Rank Fusion
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results       []types.SearchResult
	TotalResults  int
	SearchMode    SearchMode
	Duration      time.Duration
	CacheHit      bool
	VectorResults int
	TextResults   int
}

// Searcher ranks the entities of a target's merged index against a query.
type Searcher struct {
	loader   Loader
	embedder embedder.Embedder
	cache    *lru.Cache[[32]byte, *SearchResponse]
	cacheMu  sync.Mutex
}

// NewSearcher creates a Searcher. emb may be nil, in which case only keyword
// search is available and hybrid search degrades to it.
func NewSearcher(loader Loader, emb embedder.Embedder, cacheSize int) *Searcher {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[[32]byte, *SearchResponse](cacheSize)
	if err != nil {
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	return &Searcher{loader: loader, embedder: emb, cache: cache}
}

// Search performs a search based on the request parameters
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if err := validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}
	idx, err := s.loader.Load(ctx, req.Target)
	if err != nil {
		return nil, err
	}

	hash := computeQueryHash(req, idx.Version)
	if req.UseCache {
		if cached := s.checkCache(hash); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(startTime)
			return cached, nil
		}
	}

	var response *SearchResponse
	switch req.Mode {
	case SearchModeHybrid:
		response, err = s.hybridSearch(ctx, idx, req)
	case SearchModeVector:
		response, err = s.vectorOnly(ctx, idx, req)
	case SearchModeKeyword:
		response = s.keywordOnly(idx, req)
	default:
		return nil, fmt.Errorf("unsupported search mode: %s", req.Mode)
	}
	if err != nil {
		return nil, err
	}

	response.TotalResults = len(response.Results)
	response.Duration = time.Since(startTime)
	response.SearchMode = req.Mode
	if req.UseCache && len(response.Results) > 0 {
		s.storeInCache(hash, response)
	}
	return response, nil
}

// rankedResult is an entity with its score and rank in one ranking.
type rankedResult struct {
	name        string
	score       float64
	vectorScore float64
	textScore   float64
	rank        int
}

func (s *Searcher) hybridSearch(ctx context.Context, idx *Index, req SearchRequest) (*SearchResponse, error) {
	text := keywordSearch(idx.Merged, req.Query, req.Filters)

	vector, err := s.vectorSearch(ctx, idx, req)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, ErrNoEmbeddings) || s.embedder == nil:
		// Lexical ranking alone still answers the query.
		vector = nil
	default:
		return nil, err
	}

	rrf := applyRRF(vector, text, req.RRFConstant)
	return &SearchResponse{
		Results:       buildResults(idx.Merged, rrf, req.Limit),
		VectorResults: len(vector),
		TextResults:   len(text),
	}, nil
}

func (s *Searcher) vectorOnly(ctx context.Context, idx *Index, req SearchRequest) (*SearchResponse, error) {
	vector, err := s.vectorSearch(ctx, idx, req)
	if err != nil {
		return nil, err
	}
	return &SearchResponse{
		Results:       buildResults(idx.Merged, vector, req.Limit),
		VectorResults: len(vector),
	}, nil
}

func (s *Searcher) keywordOnly(idx *Index, req SearchRequest) *SearchResponse {
	text := keywordSearch(idx.Merged, req.Query, req.Filters)
	return &SearchResponse{
		Results:     buildResults(idx.Merged, text, req.Limit),
		TextResults: len(text),
	}
}

// vectorSearch ranks embedded entities by cosine similarity to the query.
func (s *Searcher) vectorSearch(ctx context.Context, idx *Index, req SearchRequest) ([]rankedResult, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("embedder not initialized")
	}
	emb := idx.Embeddings
	if emb == nil || len(emb.Vectors) == 0 {
		return nil, fmt.Errorf("%s: %w", req.Target, ErrNoEmbeddings)
	}
	if emb.Provider != s.embedder.Provider() || emb.Model != s.embedder.Model() {
		return nil, fmt.Errorf("%w: index uses %s/%s, query uses %s/%s", ErrModelMismatch,
			emb.Provider, emb.Model, s.embedder.Provider(), s.embedder.Model())
	}

	query, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: req.Query})
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}
	if len(query.Vector) != emb.Dimension {
		return nil, fmt.Errorf("%w: query dimension %d, index dimension %d", ErrModelMismatch, len(query.Vector), emb.Dimension)
	}

	results := make([]rankedResult, 0, len(emb.Vectors))
	for name, v := range emb.Vectors {
		e, ok := idx.Merged.Lookup(name)
		if !ok || !req.Filters.match(e) {
			continue
		}
		sim := embedder.CosineSimilarity(query.Vector, v)
		if sim <= 0 {
			continue
		}
		results = append(results, rankedResult{name: name, score: sim, vectorScore: sim})
	}
	sortRankedResults(results)
	if len(results) > req.Limit*2 {
		results = results[:req.Limit*2]
	}
	for i := range results {
		results[i].rank = i + 1
	}
	return results, nil
}

var identPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z_0-9]*`)

// tokenize splits a query into lower-cased identifiers.
func tokenize(query string) []string {
	raw := identPattern.FindAllString(query, -1)
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		out = append(out, strings.ToLower(t))
	}
	return out
}

// nameScore is the fraction of query tokens found in the entity's name,
// qualified name or operation names.
func nameScore(e *types.EntityRecord, tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	var hay strings.Builder
	hay.WriteString(strings.ToLower(e.Name))
	hay.WriteByte(' ')
	hay.WriteString(strings.ToLower(e.QualifiedName))
	for _, op := range e.Operations {
		hay.WriteByte(' ')
		hay.WriteString(strings.ToLower(op.Name))
	}
	haystack := hay.String()
	matches := 0
	for _, t := range tokens {
		if strings.Contains(haystack, t) {
			matches++
		}
	}
	return float64(matches) / float64(len(tokens))
}

func keywordSearch(merged *types.MergedIndex, query string, filters *SearchFilters) []rankedResult {
	tokens := tokenize(query)
	var results []rankedResult
	for i := range merged.Entities {
		e := &merged.Entities[i]
		if !filters.match(e) {
			continue
		}
		if score := nameScore(e, tokens); score > 0 {
			results = append(results, rankedResult{name: e.QualifiedName, score: score, textScore: score})
		}
	}
	sortRankedResults(results)
	for i := range results {
		results[i].rank = i + 1
	}
	return results
}

// applyRRF applies Reciprocal Rank Fusion to combine vector and text results.
// RRF(d) = sum of 1/(k + rank(d)), normalized by the best possible score so
// relevance stays within [0, 1].
func applyRRF(vectorResults, textResults []rankedResult, k float64) []rankedResult {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	fused := make(map[string]*rankedResult)
	get := func(name string) *rankedResult {
		r, ok := fused[name]
		if !ok {
			r = &rankedResult{name: name}
			fused[name] = r
		}
		return r
	}
	lists := 0
	if len(vectorResults) > 0 {
		lists++
	}
	if len(textResults) > 0 {
		lists++
	}
	for _, vr := range vectorResults {
		r := get(vr.name)
		r.score += 1.0 / (k + float64(vr.rank))
		r.vectorScore = vr.vectorScore
	}
	for _, tr := range textResults {
		r := get(tr.name)
		r.score += 1.0 / (k + float64(tr.rank))
		r.textScore = tr.textScore
	}

	best := float64(lists) / (k + 1)
	results := make([]rankedResult, 0, len(fused))
	for _, r := range fused {
		if best > 0 {
			r.score /= best
		}
		results = append(results, *r)
	}
	sortRankedResults(results)
	for i := range results {
		results[i].rank = i + 1
	}
	return results
}

func buildResults(merged *types.MergedIndex, ranked []rankedResult, limit int) []types.SearchResult {
	if limit > len(ranked) {
		limit = len(ranked)
	}
	results := make([]types.SearchResult, 0, limit)
	for _, rr := range ranked[:limit] {
		e, ok := merged.Lookup(rr.name)
		if !ok {
			continue
		}
		score := rr.score
		if score > 1 {
			score = 1
		}
		rec := *e
		results = append(results, types.SearchResult{
			Rank:           len(results) + 1,
			RelevanceScore: score,
			VectorScore:    rr.vectorScore,
			TextScore:      rr.textScore,
			Entity:         &rec,
		})
	}
	return results
}

func validateRequest(req *SearchRequest) error {
	if strings.TrimSpace(req.Query) == "" {
		return ErrEmptyQuery
	}
	if req.Target == "" {
		return fmt.Errorf("target is required")
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}
	if req.Mode == "" {
		req.Mode = SearchModeHybrid
	}
	if req.RRFConstant == 0 {
		req.RRFConstant = DefaultRRFConstant
	}
	return nil
}

func (s *Searcher) checkCache(hash [32]byte) *SearchResponse {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	entry, ok := s.cache.Get(hash)
	if !ok {
		return nil
	}
	return copySearchResponse(entry)
}

func (s *Searcher) storeInCache(hash [32]byte, response *SearchResponse) {
	s.cacheMu.Lock()
	s.cache.Add(hash, copySearchResponse(response))
	s.cacheMu.Unlock()
}

// copySearchResponse creates a deep copy so cached entries cannot be
// modified through returned results.
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Results = make([]types.SearchResult, len(src.Results))
	for i, r := range src.Results {
		dst.Results[i] = r
		if r.Entity != nil {
			rec := *r.Entity
			dst.Results[i].Entity = &rec
		}
	}
	return &dst
}

// computeQueryHash keys a request against one version of the target's
// artifacts, so rebuilt indexes never serve stale results.
func computeQueryHash(req SearchRequest, version string) [32]byte {
	var data strings.Builder
	fmt.Fprintf(&data, "%s|%s|%s|%d|%g|%s", req.Target, version, req.Mode, req.Limit, req.RRFConstant, req.Query)
	if req.Filters != nil {
		data.WriteString("|filters:")
		for _, k := range req.Filters.Kinds {
			data.WriteString(string(k))
			data.WriteByte(',')
		}
		data.WriteString("|")
		data.WriteString(req.Filters.NamespacePrefix)
	}
	return sha256.Sum256([]byte(data.String()))
}

// sortRankedResults sorts by score descending, then by name.
func sortRankedResults(results []rankedResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].name < results[j].name
	})
}

// InvalidateCache drops every cached response.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen reports the number of cached responses.
func (s *Searcher) CacheLen() int {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.cache.Len()
}
