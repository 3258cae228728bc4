package llm

import (
	"fmt"

	"github.com/greenfell/hearth/internal/config"
)

// NewEmbeddingGenerator creates the appropriate EmbeddingGenerator for the
// configured provider, wrapped with the outbound rate limit when one is set.
func NewEmbeddingGenerator(cfg config.EmbeddingConfig) (EmbeddingGenerator, error) {
	var inner EmbeddingGenerator

	switch cfg.Provider {
	case "openai":
		inner = NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		})
	case "ollama", "":
		inner = NewOllamaClient(OllamaConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.Provider)
	}

	return NewRateLimitedEmbedder(inner, cfg.RequestsPerSecond, cfg.Burst), nil
}
