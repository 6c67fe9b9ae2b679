package enrich

import (
	"sync"
	"time"

	"squeeze-discovery/internal/domain"
)

type cacheEntry struct {
	candidate *domain.EnrichedCandidate
	expires   time.Time
}

// cache holds successful enrichments keyed by (symbol, day).
type cache struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]cacheEntry
}

func newCache(ttl time.Duration) *cache {
	return &cache{ttl: ttl, items: make(map[string]cacheEntry)}
}

func cacheKey(symbol string, now time.Time) string {
	return symbol + "|" + domain.DayOf(now).Format("2006-01-02")
}

func (c *cache) get(symbol string, now time.Time) *domain.EnrichedCandidate {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(symbol, now)
	e, ok := c.items[key]
	if !ok {
		return nil
	}
	if !now.Before(e.expires) {
		delete(c.items, key)
		return nil
	}
	return cloneCandidate(e.candidate)
}

func (c *cache) put(cand *domain.EnrichedCandidate, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[cacheKey(cand.Symbol, now)] = cacheEntry{
		candidate: cloneCandidate(cand),
		expires:   now.Add(c.ttl),
	}
}

// sweep drops expired entries.
func (c *cache) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.items {
		if !now.Before(e.expires) {
			delete(c.items, k)
		}
	}
}

// cloneCandidate copies the candidate and its error map. Section pointers
// are shared; sections are never mutated after enrichment.
func cloneCandidate(c *domain.EnrichedCandidate) *domain.EnrichedCandidate {
	cp := *c
	if c.EnrichErrors != nil {
		cp.EnrichErrors = make(map[string]string, len(c.EnrichErrors))
		for k, v := range c.EnrichErrors {
			cp.EnrichErrors[k] = v
		}
	}
	return &cp
}
