package llmclient

import (
	"context"

	"github.com/aesop-rag/aesop/internal/cache"
)

// CachedEmbedder wraps an Embedder with a query-level EmbeddingCache so
// repeated or near-identical queries within the cache TTL skip the Vertex AI
// round trip entirely. EmbedDocuments is never cached; it passes straight
// through to the wrapped Embedder.
type CachedEmbedder struct {
	inner Embedder
	cache *cache.EmbeddingCache
}

// NewCachedEmbedder wraps inner with cache.
func NewCachedEmbedder(inner Embedder, cache *cache.EmbeddingCache) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: cache}
}

func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := cache.EmbeddingQueryHash(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := c.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, vec)
	return vec, nil
}

func (c *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return c.inner.EmbedDocuments(ctx, texts)
}

var _ Embedder = (*CachedEmbedder)(nil)
