// Package cache memoizes find results for a short, configurable lifespan.
// Writers never invalidate entries: staleness up to the lifespan after a
// mutation is an accepted trade-off, and correctness is "eventually fresh
// within the lifespan" rather than "always fresh".
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/adapt-security/adapt-authoring-api/db"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	gocache "github.com/patrickmn/go-cache"
)

const defaultLifespan = time.Minute

// FindFunc produces the result set on a cache miss.
type FindFunc func(ctx context.Context) (db.DocumentList, error)

// ResultCache is owned by a single resource module; entries are immutable
// value objects, so the read-then-write race between two requests computing
// the same miss is benign (the last writer wins).
type ResultCache struct {
	enabled bool
	entries *gocache.Cache
}

// NewResultCache builds a cache with the given lifespan. A disabled cache
// always delegates to the finder.
func NewResultCache(enabled bool, lifespan time.Duration) *ResultCache {
	if lifespan <= 0 {
		lifespan = defaultLifespan
	}
	return &ResultCache{
		enabled: enabled,
		entries: gocache.New(lifespan, lifespan),
	}
}

// Get returns the cached result for the (filter, options, storeOptions)
// triple, delegating to find on a miss and caching what it returns. Cache
// failures never fail the read; they fall back to a direct find.
func (c *ResultCache) Get(ctx context.Context, filter db.Document, options, storeOptions any, find FindFunc) (db.DocumentList, error) {
	if c == nil || !c.enabled {
		return find(ctx)
	}
	key, err := cacheKey(filter, options, storeOptions)
	if err != nil {
		grip.Warning(message.WrapError(err, message.Fields{
			"message": "could not build cache key, falling back to the store",
		}))
		return find(ctx)
	}
	if v, ok := c.entries.Get(key); ok {
		if docs, ok := v.(db.DocumentList); ok {
			return docs, nil
		}
	}
	docs, err := find(ctx)
	if err != nil {
		return nil, err
	}
	c.entries.SetDefault(key, docs)
	return docs, nil
}

// Flush drops every entry.
func (c *ResultCache) Flush() {
	if c != nil {
		c.entries.Flush()
	}
}

// cacheKey deterministically serializes the lookup arguments. json.Marshal
// sorts map keys, so equal queries produce equal keys.
func cacheKey(filter db.Document, options, storeOptions any) (string, error) {
	parts := make([]byte, 0, 64)
	for _, v := range []any{filter, options, storeOptions} {
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		parts = append(parts, b...)
	}
	return string(parts), nil
}
