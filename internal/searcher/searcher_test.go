package searcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/scenariogen/internal/cache"
	"github.com/dshills/scenariogen/internal/embedder"
	"github.com/dshills/scenariogen/internal/storage"
	"github.com/dshills/scenariogen/pkg/types"
)

func fixtureIndex() *types.MergedIndex {
	return &types.MergedIndex{
		Target: "fruit",
		Inputs: []string{"box.cpp"},
		Entities: []types.EntityRecord{
			{
				QualifiedName: "fruit::Apple", Name: "Apple", Namespace: "fruit", Kind: types.KindType,
				Doc: "A single apple with a colour and a weight.", File: "apple.hpp", Line: 3,
			},
			{
				QualifiedName: "fruit::Basket", Name: "Basket", Namespace: "fruit", Kind: types.KindAlias,
				Aliased: "fruit::BoxOfFruits", File: "box.hpp", Line: 30,
			},
			{
				QualifiedName: "fruit::BoxOfFruits", Name: "BoxOfFruits", Namespace: "fruit", Kind: types.KindType,
				Doc: "Holds a number of fruits. Adding fruit increases the item count.",
				Scenarios: []types.StructuredScenario{{
					Given: "an empty box", When: "two apples are added", Then: "the box contains 2 items",
				}},
				Operations: []types.Operation{
					{Name: "BoxOfFruits", Kind: types.OpConstructor, Line: 10},
					{Name: "add", Kind: types.OpMethod, Params: []types.Param{{Name: "a", Type: "const Apple &"}}, ReturnType: "void", Line: 11},
					{Name: "add", Kind: types.OpMethod, Params: []types.Param{{Name: "n", Type: "int"}}, ReturnType: "void", Line: 12},
					{Name: "count", Kind: types.OpMethod, ReturnType: "int", Const: true, Line: 13},
				},
				File: "box.hpp", Line: 9,
			},
			{
				QualifiedName: "util::clamp", Name: "clamp", Namespace: "util", Kind: types.KindFunction,
				Doc:        "Clamps a value into the closed range between low and high.",
				Operations: []types.Operation{{Name: "clamp", Kind: types.OpFunction, ReturnType: "int", Line: 5}},
				File:       "util.hpp", Line: 5,
			},
		},
	}
}

type memLoader struct {
	idx   *Index
	loads int
	err   error
}

func (m *memLoader) Load(_ context.Context, target string) (*Index, error) {
	m.loads++
	if m.err != nil {
		return nil, m.err
	}
	if target != m.idx.Target {
		return nil, storage.ErrNotFound
	}
	return m.idx, nil
}

func newTestSearcher(t *testing.T, withEmbeddings bool) (*Searcher, *memLoader, embedder.Embedder) {
	t.Helper()
	local, err := embedder.NewLocalProvider(nil)
	require.NoError(t, err)

	merged := fixtureIndex()
	idx := &Index{Target: "fruit", Version: "v1", Merged: merged}
	if withEmbeddings {
		idx.Embeddings, err = embedder.Compute(context.Background(), local, merged, embedder.ComputeOptions{})
		require.NoError(t, err)
	}
	loader := &memLoader{idx: idx}
	return NewSearcher(loader, local, 16), loader, local
}

func names(results []types.SearchResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Entity.QualifiedName)
	}
	return out
}

func TestValidateRequest(t *testing.T) {
	req := SearchRequest{Target: "fruit", Query: "box"}
	require.NoError(t, validateRequest(&req))
	assert.Equal(t, DefaultLimit, req.Limit)
	assert.Equal(t, SearchModeHybrid, req.Mode)
	assert.Equal(t, float64(DefaultRRFConstant), req.RRFConstant)

	req = SearchRequest{Target: "fruit", Query: "box", Limit: 1000}
	require.NoError(t, validateRequest(&req))
	assert.Equal(t, MaxLimit, req.Limit)

	assert.ErrorIs(t, validateRequest(&SearchRequest{Target: "fruit", Query: "  "}), ErrEmptyQuery)
	assert.Error(t, validateRequest(&SearchRequest{Query: "box"}))
}

func TestTokenizeAndNameScore(t *testing.T) {
	assert.Equal(t, []string{"box", "add", "x1"}, tokenize("Box::add(x1)"))

	merged := fixtureIndex()
	box, _ := merged.Lookup("fruit::BoxOfFruits")
	assert.Equal(t, 1.0, nameScore(box, tokenize("box count")), "operation names are searched")
	assert.Equal(t, 0.5, nameScore(box, tokenize("box clamp")))
	assert.Zero(t, nameScore(box, nil))
}

func TestApplyRRF(t *testing.T) {
	vector := []rankedResult{
		{name: "a", vectorScore: 0.9, rank: 1},
		{name: "b", vectorScore: 0.5, rank: 2},
	}
	text := []rankedResult{
		{name: "b", textScore: 1, rank: 1},
		{name: "c", textScore: 0.5, rank: 2},
	}
	fused := applyRRF(vector, text, 60)
	require.Len(t, fused, 3)
	assert.Equal(t, "b", fused[0].name, "ranked in both lists")
	assert.Equal(t, 1, fused[0].rank)
	assert.Equal(t, 0.5, fused[0].vectorScore)
	assert.Equal(t, 1.0, fused[0].textScore)
	for _, r := range fused {
		assert.LessOrEqual(t, r.score, 1.0)
		assert.Greater(t, r.score, 0.0)
	}

	single := applyRRF(nil, text, 0)
	require.Len(t, single, 2)
	assert.InDelta(t, 1.0, single[0].score, 1e-9, "top of a single list normalizes to 1")
}

func TestSortRankedResults(t *testing.T) {
	results := []rankedResult{{name: "b", score: 1}, {name: "a", score: 1}, {name: "c", score: 2}}
	sortRankedResults(results)
	assert.Equal(t, "c", results[0].name)
	assert.Equal(t, "a", results[1].name, "ties break by name")
}

func TestSearchModeKeyword(t *testing.T) {
	s, _, _ := newTestSearcher(t, false)
	resp, err := s.Search(context.Background(), SearchRequest{Target: "fruit", Query: "clamp", Mode: SearchModeKeyword})
	require.NoError(t, err)
	assert.Equal(t, []string{"util::clamp"}, names(resp.Results))
	assert.Equal(t, SearchModeKeyword, resp.SearchMode)
	assert.Equal(t, 1, resp.TextResults)
	for _, r := range resp.Results {
		assert.NoError(t, r.Validate())
	}
}

func TestSearchModeVector(t *testing.T) {
	s, _, _ := newTestSearcher(t, true)
	resp, err := s.Search(context.Background(), SearchRequest{
		Target: "fruit", Query: "clamps a value into a range", Mode: SearchModeVector, Limit: 2,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "util::clamp", resp.Results[0].Entity.QualifiedName)
	assert.Greater(t, resp.Results[0].VectorScore, 0.0)
	assert.LessOrEqual(t, len(resp.Results), 2)
}

func TestSearchModeHybrid(t *testing.T) {
	s, _, _ := newTestSearcher(t, true)
	resp, err := s.Search(context.Background(), SearchRequest{Target: "fruit", Query: "box of fruits item count"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	top := resp.Results[0]
	assert.Equal(t, "fruit::BoxOfFruits", top.Entity.QualifiedName)
	assert.Greater(t, top.VectorScore, 0.0)
	assert.Greater(t, top.TextScore, 0.0)
	assert.Positive(t, resp.VectorResults)
	assert.Positive(t, resp.TextResults)
	for i, r := range resp.Results {
		assert.Equal(t, i+1, r.Rank)
		assert.NoError(t, r.Validate())
	}
}

func TestHybridSearchWithoutEmbeddingsFallsBack(t *testing.T) {
	s, _, _ := newTestSearcher(t, false)
	resp, err := s.Search(context.Background(), SearchRequest{Target: "fruit", Query: "apple"})
	require.NoError(t, err)
	assert.Equal(t, []string{"fruit::Apple"}, names(resp.Results))
	assert.Zero(t, resp.VectorResults)

	_, err = s.Search(context.Background(), SearchRequest{Target: "fruit", Query: "apple", Mode: SearchModeVector})
	assert.ErrorIs(t, err, ErrNoEmbeddings)
}

func TestVectorSearchModelMismatch(t *testing.T) {
	s, loader, _ := newTestSearcher(t, true)
	loader.idx.Embeddings.Model = "other-model"
	_, err := s.Search(context.Background(), SearchRequest{Target: "fruit", Query: "apple", Mode: SearchModeVector})
	assert.ErrorIs(t, err, ErrModelMismatch)
	_, err = s.Search(context.Background(), SearchRequest{Target: "fruit", Query: "apple"})
	assert.ErrorIs(t, err, ErrModelMismatch, "hybrid search does not hide a mismatched index")
}

func TestSearchFilters(t *testing.T) {
	s, _, _ := newTestSearcher(t, true)
	ctx := context.Background()

	resp, err := s.Search(ctx, SearchRequest{
		Target: "fruit", Query: "fruit box apple clamp",
		Filters: &SearchFilters{Kinds: []types.EntityKind{types.KindFunction}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"util::clamp"}, names(resp.Results))

	resp, err = s.Search(ctx, SearchRequest{
		Target: "fruit", Query: "fruit box apple clamp", Mode: SearchModeKeyword,
		Filters: &SearchFilters{NamespacePrefix: "fruit::"},
	})
	require.NoError(t, err)
	for _, n := range names(resp.Results) {
		assert.NotEqual(t, "util::clamp", n)
	}
	assert.NotEmpty(t, resp.Results)
}

func TestSearchWithCache(t *testing.T) {
	s, loader, _ := newTestSearcher(t, true)
	ctx := context.Background()
	req := SearchRequest{Target: "fruit", Query: "apple", UseCache: true}

	first, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Equal(t, 1, s.CacheLen())

	second, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, names(first.Results), names(second.Results))

	second.Results[0].Entity.Name = "mutated"
	third, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "Apple", third.Results[0].Entity.Name, "cached entries are copies")

	loader.idx.Version = "v2"
	fourth, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, fourth.CacheHit, "a new artifact version misses the cache")

	s.InvalidateCache()
	assert.Zero(t, s.CacheLen())
}

func TestSearchUnsupportedModeAndLoadErrors(t *testing.T) {
	s, loader, _ := newTestSearcher(t, false)
	ctx := context.Background()

	_, err := s.Search(ctx, SearchRequest{Target: "fruit", Query: "x", Mode: "psychic"})
	assert.Error(t, err)

	_, err = s.Search(ctx, SearchRequest{Target: "veg", Query: "x"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	loader.err = errors.New("disk on fire")
	_, err = s.Search(ctx, SearchRequest{Target: "fruit", Query: "x"})
	assert.EqualError(t, err, "disk on fire")
}

func TestSearchByName(t *testing.T) {
	s, _, _ := newTestSearcher(t, false)
	ctx := context.Background()

	syms, err := s.SearchByName(ctx, "fruit", "ADD")
	require.NoError(t, err)
	require.Len(t, syms, 2, "each overload is listed")
	for _, sym := range syms {
		assert.Equal(t, "fruit::BoxOfFruits::add", sym.QualifiedName)
		assert.Equal(t, "method", sym.Kind)
		assert.Equal(t, "fruit::BoxOfFruits", sym.Owner)
	}

	syms, err = s.SearchByName(ctx, "fruit", "box")
	require.NoError(t, err)
	var got []string
	for _, sym := range syms {
		got = append(got, sym.QualifiedName)
	}
	assert.Equal(t, []string{"fruit::BoxOfFruits", "fruit::BoxOfFruits::BoxOfFruits"}, got)

	_, err = s.SearchByName(ctx, "fruit", "")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestGetSymbol(t *testing.T) {
	s, _, _ := newTestSearcher(t, false)
	ctx := context.Background()

	syms, err := s.GetSymbol(ctx, "fruit", "fruit::BoxOfFruits")
	require.NoError(t, err)
	require.Len(t, syms, 1)
	assert.Equal(t, "class BoxOfFruits", syms[0].Signature)
	assert.Len(t, syms[0].Scenarios, 1)

	syms, err = s.GetSymbol(ctx, "fruit", "fruit::BoxOfFruits::count")
	require.NoError(t, err)
	require.Len(t, syms, 1)
	assert.Equal(t, "int count() const", syms[0].Signature)

	_, err = s.GetSymbol(ctx, "fruit", "fruit::BoxOfFruits::peel")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetSymbol(ctx, "fruit", "nowhere::thing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetClassMethods(t *testing.T) {
	s, _, _ := newTestSearcher(t, false)
	ctx := context.Background()

	methods, err := s.GetClassMethods(ctx, "fruit", "fruit::BoxOfFruits")
	require.NoError(t, err)
	require.Len(t, methods, 4)
	assert.Equal(t, "constructor", methods[0].Kind)
	assert.Equal(t, "count", methods[3].Name)

	_, err = s.GetClassMethods(ctx, "fruit", "util::clamp")
	assert.ErrorIs(t, err, storage.ErrNotFound, "functions are not classes")
}

func TestStoreLoader(t *testing.T) {
	ctx := context.Background()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := cache.NewMemoryStore()
	loader := NewStoreLoader(db, store, 2)

	_, err = loader.Load(ctx, "fruit")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	mergedHash, err := cache.PutJSON(store, fixtureIndex())
	require.NoError(t, err)
	require.NoError(t, db.PutTargetHead(ctx, &storage.TargetHead{Target: "fruit", State: "merged", MergedHash: mergedHash}))

	idx, err := loader.Load(ctx, "fruit")
	require.NoError(t, err)
	assert.Equal(t, mergedHash+":", idx.Version)
	assert.Nil(t, idx.Embeddings)
	assert.Len(t, idx.Merged.Entities, 4)

	again, err := loader.Load(ctx, "fruit")
	require.NoError(t, err)
	assert.Same(t, idx, again, "decoded indexes are reused")

	require.NoError(t, db.PutTargetHead(ctx, &storage.TargetHead{Target: "fruit", State: "merged", MergedHash: "missing"}))
	_, err = loader.Load(ctx, "fruit")
	assert.Error(t, err)
}

func BenchmarkHybridSearch(b *testing.B) {
	local, _ := embedder.NewLocalProvider(nil)
	merged := fixtureIndex()
	emb, err := embedder.Compute(context.Background(), local, merged, embedder.ComputeOptions{})
	if err != nil {
		b.Fatal(err)
	}
	s := NewSearcher(&memLoader{idx: &Index{Target: "fruit", Version: "v1", Merged: merged, Embeddings: emb}}, local, 0)
	req := SearchRequest{Target: "fruit", Query: "box of fruits item count"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Search(context.Background(), req); err != nil {
			b.Fatal(err)
		}
	}
}
