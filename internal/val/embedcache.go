package val

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/patrickmn/go-cache"
)

// CachingEmbeddingProvider wraps an EmbeddingProvider with an in-process
// TTL cache keyed by the text's content hash, so repeated calls to
// assemble_context or deploy a note don't re-pay an external embedding
// provider for text it has already vectorized. Grounded on the
// patrickmn/go-cache in-memory store used by the AI-delegation example
// repo to avoid re-dialing peers for data it already holds.
type CachingEmbeddingProvider struct {
	inner EmbeddingProvider
	cache *cache.Cache
}

// NewCachingEmbeddingProvider wraps inner with a cache that expires
// entries after ttl and sweeps expired entries every cleanupInterval.
func NewCachingEmbeddingProvider(inner EmbeddingProvider, ttl, cleanupInterval time.Duration) *CachingEmbeddingProvider {
	return &CachingEmbeddingProvider{
		inner: inner,
		cache: cache.New(ttl, cleanupInterval),
	}
}

func (c *CachingEmbeddingProvider) Name() string   { return c.inner.Name() }
func (c *CachingEmbeddingProvider) Dimensions() int { return c.inner.Dimensions() }
func (c *CachingEmbeddingProvider) ModelID() string { return c.inner.ModelID() }

func embedCacheKey(modelID, text string) string {
	sum := sha256.Sum256([]byte(modelID + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// Embed returns the cached vector for text if one is still fresh,
// otherwise calls through to inner and caches the result.
func (c *CachingEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := embedCacheKey(c.inner.ModelID(), text)
	if v, ok := c.cache.Get(key); ok {
		return v.([]float32), nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, vec)
	return vec, nil
}

// EmbedBatch resolves each text against the cache individually, only
// calling through to inner for the texts that missed.
func (c *CachingEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		key := embedCacheKey(c.inner.ModelID(), text)
		if v, ok := c.cache.Get(key); ok {
			out[i] = v.([]float32)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.cache.SetDefault(embedCacheKey(c.inner.ModelID(), missTexts[j]), vecs[j])
	}
	return out, nil
}
