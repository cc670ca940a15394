package rules

import "time"

// RulesCache caches the compiled active rule set between passes.
// This allows swapping between in-memory, Redis, or other caching implementations.
type RulesCache interface {
	// Get retrieves cached rules, returns nil if cache miss or expired
	Get() []*Compiled

	// Set stores rules in cache
	Set(rules []*Compiled)

	// Invalidate clears the cache, forcing a refresh on next Get
	Invalidate()

	// IsValid returns true if cache has valid data
	IsValid() bool
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Set to 0 for no expiration (manual invalidation only).
	// A TTL picks up rule edits made by other processes sharing the store.
	TTL time.Duration
}

// DefaultCacheConfig returns the defaults for rule caching
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 5 * time.Minute,
	}
}
