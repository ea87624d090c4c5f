package lexical

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/model"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/tokenizer"
)

type statsEntry struct {
	textLen int
	stats   model.TermStats
}

// StatsCache memoises term statistics derived from chunk text, keyed by
// chunk id. An entry is recomputed if the chunk text length changed.
type StatsCache struct {
	cache  *lru.Cache[string, statsEntry]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewStatsCache creates a cache holding up to size chunks.
func NewStatsCache(size int) *StatsCache {
	if size <= 0 {
		size = 10000
	}
	cache, err := lru.New[string, statsEntry](size)
	if err != nil {
		cache, _ = lru.New[string, statsEntry](10000)
	}
	return &StatsCache{cache: cache}
}

// Get returns the term statistics for chunk, deriving and caching them on a
// miss.
func (c *StatsCache) Get(chunk model.Chunk) model.TermStats {
	if entry, ok := c.cache.Get(chunk.ID); ok && entry.textLen == len(chunk.Text) {
		c.hits.Add(1)
		return entry.stats
	}
	c.misses.Add(1)
	stats := tokenizer.Stats(chunk.Text)
	c.cache.Add(chunk.ID, statsEntry{textLen: len(chunk.Text), stats: stats})
	return stats
}

// Stats returns hit and miss counts.
func (c *StatsCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of cached chunks.
func (c *StatsCache) Len() int {
	return c.cache.Len()
}
