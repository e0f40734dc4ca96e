package resilience

import (
	"context"
	"sync"
)

// Fallback produces a degraded substitute result after every attempt against
// the primary path has failed. cause is the final error. Fallbacks are for
// read paths only; ExecuteOnce never substitutes one.
type Fallback func(ctx context.Context, cause error) (interface{}, error)

// Degraded is the explicit marker returned by a last-known-good fallback when
// no cached result exists for the query.
type Degraded struct {
	Dependency string `json:"dependency"`
	Cause      string `json:"cause"`
}

// LastGoodCache remembers the most recent successful result per logical query
// key, for use as a read-path fallback. Safe for concurrent use.
type LastGoodCache struct {
	mu      sync.RWMutex
	entries map[string]interface{}
}

// NewLastGoodCache creates an empty LastGoodCache.
func NewLastGoodCache() *LastGoodCache {
	return &LastGoodCache{entries: make(map[string]interface{})}
}

// Put records the latest successful result for key.
func (c *LastGoodCache) Put(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
}

// Get returns the cached result for key, if any.
func (c *LastGoodCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Fallback builds a Fallback that serves the cached result for key, or a
// Degraded marker when the cache is empty for that key.
func (c *LastGoodCache) Fallback(dependency, key string) Fallback {
	return func(_ context.Context, cause error) (interface{}, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		return &Degraded{Dependency: dependency, Cause: cause.Error()}, nil
	}
}
