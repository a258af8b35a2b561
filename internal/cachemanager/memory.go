package cachemanager

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/examalpha/examshell/internal/log"
)

// Memory implements Cache on go-cache. name labels its log lines.
type Memory[V any] struct {
	name  string
	cache *gocache.Cache
}

var _ Cache[string] = (*Memory[string])(nil)

// NewMemory creates an empty cache. Expired entries are dropped every
// cleanupInterval; a ttl of 0 passed to Set means DefaultExpiration.
func NewMemory[V any](name string, cleanupInterval time.Duration) *Memory[V] {
	c := gocache.New(DefaultExpiration, cleanupInterval)
	c.OnEvicted(func(key string, _ any) {
		log.Debug(log.CatCache, "cache entry evicted", "cache", name, "key", key)
	})
	return &Memory[V]{name: name, cache: c}
}

// Get returns the live entry for key. A value of another type is a miss.
func (m *Memory[V]) Get(key string) (V, bool) {
	var zero V

	value, found := m.cache.Get(key)
	if !found {
		log.Debug(log.CatCache, "cache miss", "cache", m.name, "key", key)
		return zero, false
	}
	v, ok := value.(V)
	if !ok {
		log.Error(log.CatCache, "cached value has unexpected type", "cache", m.name, "key", key)
		return zero, false
	}
	return v, true
}

// Set stores value under key for ttl.
func (m *Memory[V]) Set(key string, value V, ttl time.Duration) {
	m.cache.Set(key, value, ttl)
}

// Delete drops key.
func (m *Memory[V]) Delete(key string) {
	m.cache.Delete(key)
}
