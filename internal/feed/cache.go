package feed

import (
	"github.com/maypok86/otter"
	"github.com/zeebo/xxh3"
)

// Fingerprint returns a 64-bit content fingerprint. Topics use it to
// short-circuit the diff when a fetch returns byte-identical content.
func Fingerprint(data []byte) uint64 {
	return xxh3.Hash(data)
}

// ParseCache memoizes Parse results keyed by content fingerprint, so
// each sweep does not re-parse the stored feed of every unchanged
// topic. Bounded; otter handles eviction.
type ParseCache struct {
	cache otter.Cache[uint64, *Parsed]
}

// NewParseCache creates a ParseCache bounded to maxEntries feeds.
func NewParseCache(maxEntries int) *ParseCache {
	cache, err := otter.MustBuilder[uint64, *Parsed](maxEntries).
		Cost(func(_ uint64, _ *Parsed) uint32 { return 1 }).
		Build()
	if err != nil {
		panic("feed: failed to create parse cache: " + err.Error())
	}
	return &ParseCache{cache: cache}
}

// Parse returns the parsed form of data, from cache when possible.
// Cached values are shared; callers must not mutate the result.
func (c *ParseCache) Parse(data []byte) *Parsed {
	if len(data) == 0 {
		return nil
	}
	key := Fingerprint(data)
	if p, ok := c.cache.Get(key); ok {
		return p
	}
	p := Parse(data)
	if p != nil {
		c.cache.Set(key, p)
	}
	return p
}
