package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embeddingServer(t *testing.T, status *int32, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if r.Method != http.MethodPost || r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if code := atomic.LoadInt32(status); code != http.StatusOK {
			w.WriteHeader(int(code))
			_, _ = w.Write([]byte(`{"error":"nope"}`))
			return
		}

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}

		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		// Reverse order: the provider must sort by index.
		data := make([]item, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, item{Index: i, Embedding: []float32{float32(len(req.Input[i])), 1, 0}})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"model": req.Model, "data": data})
	}))
}

func newTestHTTPProvider(t *testing.T, url string) *HTTPProvider {
	t.Helper()
	p, err := NewHTTPProvider(HTTPConfig{Name: ProviderOpenAI, BaseURL: url + "/v1", Model: "test-model"}, NewCache(10))
	require.NoError(t, err)
	p.retry = RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}
	return p
}

func TestHTTPProvider_Batch(t *testing.T) {
	status, calls := int32(http.StatusOK), int32(0)
	server := embeddingServer(t, &status, &calls)
	defer server.Close()

	p := newTestHTTPProvider(t, server.URL)
	resp, err := p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"a", "bbb"}})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 2)
	assert.Equal(t, []float32{1, 1, 0}, resp.Embeddings[0].Vector)
	assert.Equal(t, []float32{3, 1, 0}, resp.Embeddings[1].Vector)
	assert.Equal(t, "test-model", resp.Model)

	// Second request is served from cache.
	_, err = p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "bbb"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHTTPProvider_RetriesServerErrors(t *testing.T) {
	status, calls := int32(http.StatusServiceUnavailable), int32(0)
	server := embeddingServer(t, &status, &calls)
	defer server.Close()

	p := newTestHTTPProvider(t, server.URL)
	_, err := p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"a"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProviderFailed))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPProvider_ClientErrorIsPermanent(t *testing.T) {
	status, calls := int32(http.StatusUnauthorized), int32(0)
	server := embeddingServer(t, &status, &calls)
	defer server.Close()

	p := newTestHTTPProvider(t, server.URL)
	_, err := p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api error 401")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHTTPProvider_Validation(t *testing.T) {
	p := newTestHTTPProvider(t, "http://127.0.0.1:1")
	_, err := p.GenerateBatch(context.Background(), BatchEmbeddingRequest{})
	assert.True(t, errors.Is(err, ErrInvalidInput))
	_, err = p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: make([]string, MaxBatchSize+1)})
	assert.Error(t, err)
	_, err = p.GenerateEmbedding(context.Background(), EmbeddingRequest{})
	assert.True(t, errors.Is(err, ErrEmptyText))
}

func TestLocalProvider(t *testing.T) {
	p, err := NewLocalProvider(NewCache(10))
	require.NoError(t, err)
	ctx := context.Background()

	a, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "container for fruits"})
	require.NoError(t, err)
	b, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "container for fruits"})
	require.NoError(t, err)
	assert.Equal(t, a.Vector, b.Vector)
	assert.Len(t, a.Vector, LocalDimension)
	assert.InDelta(t, 1.0, CosineSimilarity(a.Vector, a.Vector), 1e-6)

	related, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "a box of fruits"})
	require.NoError(t, err)
	unrelated, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "network socket timeout"})
	require.NoError(t, err)
	assert.Greater(t, CosineSimilarity(a.Vector, related.Vector), CosineSimilarity(a.Vector, unrelated.Vector))
}

func TestLocalProviderRanksRelatedTexts(t *testing.T) {
	p, err := NewLocalProvider(nil)
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		text, related, unrelated string
	}{
		{"container for fruits", "a box of fruits", "network socket timeout"},
		{"clamps a value into a range", "clamp the value to a closed range", "parse the json document"},
		{"open a socket connection", "close the socket connection", "the box contains apples"},
		{"adding fruit increases the item count", "count of items after adding fruit", "render the html template"},
	}
	embed := func(text string) []float32 {
		e, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
		require.NoError(t, err)
		return e.Vector
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			v := embed(tt.text)
			assert.Greater(t, CosineSimilarity(v, embed(tt.related)), CosineSimilarity(v, embed(tt.unrelated)))
		})
	}
}

func TestHashTerms(t *testing.T) {
	assert.Equal(t, []string{"glass", "fruit", "box"}, hashTerms("a glass of Fruits in the box"))
	assert.Empty(t, hashTerms("of the"))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"lib", "box", "of", "fruits", "add", "item"}, Tokenize("lib::BoxOfFruits add_item"))
	assert.Empty(t, Tokenize("::"))
}

func TestCache(t *testing.T) {
	c := NewCache(1)
	c.Set("a", &Embedding{Vector: []float32{1}})
	got, ok := c.Get("a")
	require.True(t, ok)
	got.Vector[0] = 42

	again, _ := c.Get("a")
	assert.Equal(t, float32(1), again.Vector[0])

	c.Set("b", &Embedding{Vector: []float32{2}})
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Size())

	var nilCache *Cache
	_, ok = nilCache.Get("a")
	assert.False(t, ok)
}

func TestRetryWithBackoff(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}

	attempts := 0
	v, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, errors.New("transient")
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	attempts = 0
	_, err = retryWithBackoff(context.Background(), cfg, func() (int, error) {
		attempts++
		return 0, permanent(errors.New("bad request"))
	})
	assert.EqualError(t, err, "bad request")
	assert.Equal(t, 1, attempts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = retryWithBackoff(ctx, cfg, func() (int, error) { return 0, errors.New("x") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFactory(t *testing.T) {
	t.Setenv(EnvProvider, "")
	t.Setenv(EnvJinaAPIKey, "")
	t.Setenv(EnvOpenAIAPIKey, "")
	t.Setenv(EnvGeminiAPIKey, "")
	ctx := context.Background()

	assert.Equal(t, ProviderLocal, DetectProvider())
	e, err := NewFromEnv(ctx)
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, e.Provider())

	_, err = New(ctx, Config{Provider: ProviderOpenAI})
	assert.True(t, errors.Is(err, ErrNoProviderEnabled))

	// A self-hosted endpoint needs no key.
	e, err = New(ctx, Config{Provider: ProviderOpenAI, BaseURL: "http://localhost:8080/v1", Model: "nomic-embed-text"})
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", e.Model())
	assert.Equal(t, 0, e.Dimension())

	t.Setenv(EnvJinaAPIKey, "key")
	assert.Equal(t, ProviderJina, DetectProvider())
	e, err = New(ctx, Config{})
	require.NoError(t, err)
	assert.Equal(t, JinaDimension, e.Dimension())

	_, err = New(ctx, Config{Provider: "word2vec"})
	assert.True(t, errors.Is(err, ErrUnsupportedModel))
}
