package embedding

import (
	"fmt"
	"time"
)

// Config selects and tunes an embedding provider.
type Config struct {
	Provider   string        `mapstructure:"provider"` // "ollama" | "openai" | "hash" | "" (disabled)
	Model      string        `mapstructure:"model"`
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Dims       int           `mapstructure:"dims"`
	Timeout    time.Duration `mapstructure:"timeout"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
	RatePerSec float64       `mapstructure:"rate_per_sec"`
	RateBurst  int           `mapstructure:"rate_burst"`
}

// New builds an embedder from cfg. It returns nil when embeddings are disabled.
// The provider is wrapped with rate limiting, caching and a per-call deadline
// according to cfg.
func New(cfg Config) (Embedder, error) {
	var base Embedder
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "ollama":
		base = NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.Dims)
	case "openai":
		base = NewOpenAIEmbedder(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dims)
	case "hash":
		base = NewHashEmbedder(cfg.Dims)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	e := base
	if cfg.RatePerSec > 0 {
		e = NewLimited(e, cfg.RatePerSec, cfg.RateBurst)
	}
	e = NewBounded(e, cfg.Provider, cfg.Timeout)
	if cfg.CacheTTL > 0 {
		e = NewCached(e, cfg.CacheTTL)
	}
	return e, nil
}
