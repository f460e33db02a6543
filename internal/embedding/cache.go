// Package embedding provides a memoizing front for embedding providers.
package embedding

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/engramdev/engram/internal/llm"
)

// DefaultCacheEntries bounds the cache when no size is configured.
const DefaultCacheEntries = 4096

// Stats describes the current cache occupancy.
type Stats struct {
	Size              int   `json:"size"`
	ApproxMemoryBytes int64 `json:"approx_memory_bytes"`
}

// Cache memoizes embedding vectors keyed by the exact (trimmed) input text.
// Two calls with the same text hit the provider once; any textual difference
// is a distinct entry. Evicted or cleared entries are recomputed on demand.
type Cache struct {
	generator llm.EmbeddingGenerator
	entries   *lru.Cache[[32]byte, []float64]
}

// NewCache wraps an embedding generator with a bounded LRU cache of
// maxEntries vectors. maxEntries <= 0 falls back to DefaultCacheEntries.
func NewCache(generator llm.EmbeddingGenerator, maxEntries int) (*Cache, error) {
	if generator == nil {
		return nil, fmt.Errorf("embedding cache: generator cannot be nil")
	}
	if maxEntries <= 0 {
		maxEntries = DefaultCacheEntries
	}
	entries, err := lru.New[[32]byte, []float64](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	return &Cache{generator: generator, entries: entries}, nil
}

// GetOrCompute returns the embedding vector for text, computing it through
// the provider on a cache miss. Provider failures are returned to the caller
// and never cached, so the next call retries.
func (c *Cache) GetOrCompute(ctx context.Context, text string) ([]float64, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("embedding cache: text cannot be empty")
	}

	key := sha256.Sum256([]byte(trimmed))
	if vector, ok := c.entries.Get(key); ok {
		return vector, nil
	}

	vector, err := c.generator.Embed(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("embedding cache: provider returned empty vector")
	}

	c.entries.Add(key, vector)
	return vector, nil
}

// Clear drops every cached vector and returns how many were evicted.
func (c *Cache) Clear() int {
	n := c.entries.Len()
	c.entries.Purge()
	return n
}

// Stats reports entry count and an estimate of resident vector memory.
func (c *Cache) Stats() Stats {
	var bytes int64
	for _, key := range c.entries.Keys() {
		if vector, ok := c.entries.Peek(key); ok {
			bytes += int64(len(vector) * 8)
		}
	}
	return Stats{Size: c.entries.Len(), ApproxMemoryBytes: bytes}
}

// GetModel reports the underlying provider's embedding model.
func (c *Cache) GetModel() string {
	return c.generator.GetModel()
}
