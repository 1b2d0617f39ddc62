package embedding

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Jita81/SelfImprovingRAG/internal/cache"
)

// Config selects an embedding provider.
type Config struct {
	// Provider is one of "", "none", "hashing" or "openai".
	Provider  string
	APIKey    string
	BaseURL   string
	Model     string
	BatchSize int
	Dimension int
	CacheTTL  time.Duration
}

// New builds the configured Encoder. Remote providers are wrapped in a
// CachedEncoder backed by provider. It returns nil when embeddings are disabled.
func New(cfg Config, provider cache.Provider, logger *slog.Logger) (Encoder, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "none":
		return nil, nil
	case "hashing":
		return NewHashingEncoder(cfg.Dimension), nil
	case "openai":
		enc, err := NewOpenAIEncoder(OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			BatchSize: cfg.BatchSize,
		})
		if err != nil {
			return nil, err
		}
		return NewCachedEncoder(enc, provider, enc.Model(), cfg.CacheTTL, logger), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
