package embedder

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Environment variables consulted by the factory.
const (
	EnvProvider     = "SCENARIOGEN_EMBEDDING_PROVIDER"
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvGeminiAPIKey = "GEMINI_API_KEY"
)

// Config holds embedder configuration
type Config struct {
	Provider string
	// Model and BaseURL override the provider defaults. A BaseURL with the
	// openai provider targets any OpenAI-compatible server.
	Model     string
	BaseURL   string
	APIKey    string
	Dimension int
	CacheSize int
}

// New creates an embedder with explicit configuration. An empty provider is
// detected from the environment.
func New(ctx context.Context, cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = DetectProvider()
	}

	switch provider {
	case ProviderJina, ProviderOpenAI:
		return newHTTP(provider, cfg, cache)
	case ProviderGenAI:
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv(EnvGeminiAPIKey)
		}
		return NewGenAIProvider(ctx, key, cfg.Model, cache)
	case ProviderLocal:
		return NewLocalProvider(cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

func newHTTP(provider string, cfg Config, cache *Cache) (Embedder, error) {
	hc := HTTPConfig{
		Name:      provider,
		BaseURL:   DefaultOpenAIBaseURL,
		Model:     DefaultOpenAIModel,
		Dimension: OpenAIDimension,
		APIKey:    cfg.APIKey,
	}
	keyEnv := EnvOpenAIAPIKey
	if provider == ProviderJina {
		hc.BaseURL, hc.Model, hc.Dimension = DefaultJinaBaseURL, DefaultJinaModel, JinaDimension
		keyEnv = EnvJinaAPIKey
	}
	if hc.APIKey == "" {
		hc.APIKey = os.Getenv(keyEnv)
	}

	custom := cfg.BaseURL != ""
	if custom {
		hc.BaseURL = cfg.BaseURL
	}
	if cfg.Model != "" {
		hc.Model = cfg.Model
		hc.Dimension = 0
	}
	if cfg.Dimension > 0 {
		hc.Dimension = cfg.Dimension
	}
	// Self-hosted endpoints commonly run without a key.
	if hc.APIKey == "" && !custom {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, keyEnv)
	}
	return NewHTTPProvider(hc, cache)
}

// NewFromEnv creates an embedder based on environment variables
func NewFromEnv(ctx context.Context) (Embedder, error) {
	return New(ctx, Config{CacheSize: 10000})
}

// DetectProvider returns the provider that would be used based on current
// environment: an explicit SCENARIOGEN_EMBEDDING_PROVIDER, else the first
// API key found, else the offline local provider.
func DetectProvider() string {
	if provider := os.Getenv(EnvProvider); provider != "" {
		return strings.ToLower(provider)
	}
	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	if os.Getenv(EnvGeminiAPIKey) != "" {
		return ProviderGenAI
	}
	return ProviderLocal
}
