package models

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/adapters"
	ports "github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/ports"
)

// DefaultEmbeddingTTL bounds how long a cached embedding is reused.
const DefaultEmbeddingTTL = 24 * time.Hour

// EmbeddingCache provides an LRU cache for embeddings
type EmbeddingCache struct {
	lru    *adapters.LRU[[]float64]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewEmbeddingCache creates a new embedding cache
func NewEmbeddingCache(maxSize int) *EmbeddingCache {
	return &EmbeddingCache{lru: adapters.NewLRU[[]float64](maxSize, DefaultEmbeddingTTL)}
}

// Get retrieves an embedding from cache
func (c *EmbeddingCache) Get(key string) ([]float64, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Set stores an embedding in cache
func (c *EmbeddingCache) Set(key string, embedding []float64) {
	c.lru.Set(key, embedding)
}

// GenerateCacheKey generates a cache key for a text embedded by model
func (c *EmbeddingCache) GenerateCacheKey(text, model string) string {
	hash := md5.Sum([]byte(model + "\x00" + text))
	return fmt.Sprintf("%x", hash)
}

// Clear removes all entries from cache
func (c *EmbeddingCache) Clear() {
	c.lru.Purge()
}

// Size returns current cache size
func (c *EmbeddingCache) Size() int {
	return c.lru.Len()
}

// Stats returns cache statistics
func (c *EmbeddingCache) Stats() map[string]any {
	hits, misses := c.hits.Load(), c.misses.Load()
	rate := 0.0
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}
	return map[string]any{
		"size":     c.lru.Len(),
		"hits":     hits,
		"misses":   misses,
		"hit_rate": rate,
	}
}

// CachedEmbedder memoizes an Embedder. Queries repeat often across turns of a
// conversation, and re-indexing after eviction re-embeds known text.
type CachedEmbedder struct {
	base  ports.Embedder
	model string
	cache *EmbeddingCache
}

// NewCachedEmbedder wraps base with a cache of capacity entries. model namespaces the keys.
func NewCachedEmbedder(base ports.Embedder, model string, capacity int) *CachedEmbedder {
	return &CachedEmbedder{base: base, model: model, cache: NewEmbeddingCache(capacity)}
}

// Cache exposes the underlying cache.
func (e *CachedEmbedder) Cache() *EmbeddingCache { return e.cache }

func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	key := e.cache.GenerateCacheKey(text, e.model)
	if v, ok := e.cache.Get(key); ok {
		return v, nil
	}
	v, err := e.base.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(key, v)
	return v, nil
}

// EmbedBatch only sends the texts missing from the cache to the base embedder.
func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	keys := make([]string, len(texts))
	var missing []int
	for i, t := range texts {
		keys[i] = e.cache.GenerateCacheKey(t, e.model)
		if v, ok := e.cache.Get(keys[i]); ok {
			out[i] = v
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	batch := make([]string, len(missing))
	for j, i := range missing {
		batch[j] = texts[i]
	}
	vecs, err := e.base.EmbedBatch(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(batch) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(batch))
	}
	for j, i := range missing {
		out[i] = vecs[j]
		e.cache.Set(keys[i], vecs[j])
	}
	return out, nil
}

// Close closes the wrapped embedder when it holds resources.
func (e *CachedEmbedder) Close() error {
	e.cache.Clear()
	if c, ok := e.base.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var _ ports.Embedder = (*CachedEmbedder)(nil)
