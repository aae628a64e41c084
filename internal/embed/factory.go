package embed

import (
	"fmt"

	"github.com/docforge/docforge/internal/config"
	"github.com/docforge/docforge/internal/errors"
)

// NewFromConfig builds the configured embedding provider wrapped in an
// LRU cache.
func NewFromConfig(cfg config.EmbeddingsConfig) (Embedder, error) {
	var inner Embedder
	switch cfg.Provider {
	case "ollama":
		inner = NewOllamaEmbedder(OllamaConfig{
			Host:       cfg.OllamaHost,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
		})
	case "static":
		inner = NewStaticEmbedder(cfg.Dimensions)
	default:
		return nil, errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown embeddings provider %q", cfg.Provider), nil)
	}

	cached, err := NewCachedEmbedder(inner, cfg.CacheSize)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}
	return cached, nil
}
