// Package cache provides the bounded memoization used for previews, URL
// extraction results and message records. Capacity and eviction are explicit
// constructor concerns so they can be tested apart from whatever function is
// being memoized.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// LRU is a bounded, least-recently-used memoization cache. The underlying
// store is internally locked, so an LRU is safe for concurrent use by
// parallel plugin hooks.
type LRU[K comparable, V any] struct {
	entries *lru.Cache[K, V]
}

// New creates a cache holding at most capacity entries.
func New[K comparable, V any](capacity int) (*LRU[K, V], error) {
	entries, err := lru.New[K, V](capacity)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create bounded cache")
	}
	return &LRU[K, V]{entries: entries}, nil
}

// Get returns the cached value for key, if present.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	return c.entries.Get(key)
}

// Add stores value under key, evicting the least recently used entry when
// the cache is full.
func (c *LRU[K, V]) Add(key K, value V) {
	c.entries.Add(key, value)
}

// Remove drops key from the cache.
func (c *LRU[K, V]) Remove(key K) {
	c.entries.Remove(key)
}

// Len returns the current entry count.
func (c *LRU[K, V]) Len() int {
	return c.entries.Len()
}

// GetOrCompute returns the cached value for key, invoking supplier on a miss
// and memoizing its result. Supplier errors are returned without being
// cached, so a later call may retry.
func (c *LRU[K, V]) GetOrCompute(key K, supplier func() (V, error)) (V, error) {
	if value, ok := c.entries.Get(key); ok {
		return value, nil
	}

	value, err := supplier()
	if err != nil {
		var zero V
		return zero, err
	}

	c.entries.Add(key, value)
	return value, nil
}
