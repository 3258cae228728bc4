package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedEmbedder wraps an EmbeddingGenerator with a token-bucket rate
// limit. Waiting respects context cancellation, so a caller's deadline still
// bounds the total call time.
type RateLimitedEmbedder struct {
	inner   EmbeddingGenerator
	limiter *rate.Limiter
}

// NewRateLimitedEmbedder wraps inner with a limit of rps requests per second
// and the given burst. A non-positive rps returns inner unchanged.
func NewRateLimitedEmbedder(inner EmbeddingGenerator, rps float64, burst int) EmbeddingGenerator {
	if rps <= 0 {
		return inner
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedEmbedder{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Embed waits for a rate limiter token, then delegates to the wrapped
// generator.
func (r *RateLimitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limit wait: %w", err)
	}
	return r.inner.Embed(ctx, text)
}

// GetModel returns the wrapped generator's model name.
func (r *RateLimitedEmbedder) GetModel() string {
	return r.inner.GetModel()
}

// Compile-time assertion.
var _ EmbeddingGenerator = (*RateLimitedEmbedder)(nil)
