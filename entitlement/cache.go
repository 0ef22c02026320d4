package entitlement

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache remembers grants that are known to exist. Grants are never revoked,
// so a positive answer stays true; misses always go to the store. A nil
// *Cache is valid and caches nothing.
type Cache struct {
	lru *expirable.LRU[string, Source]
}

// NewCache returns a cache holding up to size grants for ttl each.
// A non-positive size disables caching.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		return nil
	}
	return &Cache{lru: expirable.NewLRU[string, Source](size, nil, ttl)}
}

// Lookup returns the cached source of a grant.
func (c *Cache) Lookup(userID string, catalog Catalog, unitID string) (Source, bool) {
	if c == nil {
		return "", false
	}
	return c.lru.Get(cacheKey(userID, catalog, unitID))
}

// Remember records an existing grant.
func (c *Cache) Remember(g *Grant) {
	if c == nil || g == nil {
		return
	}
	c.lru.Add(cacheKey(g.UserID, g.Catalog, g.UnitID), g.Source)
}

// Len reports how many grants are cached.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

func cacheKey(userID string, catalog Catalog, unitID string) string {
	return string(catalog) + "\x00" + userID + "\x00" + unitID
}
