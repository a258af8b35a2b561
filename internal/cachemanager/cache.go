// Package cachemanager keeps short-lived copies of values whose source of
// truth is slower to reach, such as the exit password held in sqlite.
package cachemanager

import "time"

const (
	DefaultExpiration      = 10 * time.Minute
	DefaultCleanupInterval = 30 * time.Minute
)

// Cache is a typed string-keyed cache with per-entry TTLs.
type Cache[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V, ttl time.Duration)
	Delete(key string)
}
