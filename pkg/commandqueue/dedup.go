package commandqueue

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultDedupSize = 1024
	defaultDedupTTL  = 5 * time.Minute
)

// dedupCache remembers successful results by request id for a bounded time.
type dedupCache struct {
	lru *expirable.LRU[string, taskResult]
}

func newDedupCache(size int, ttl time.Duration) *dedupCache {
	if size <= 0 {
		size = defaultDedupSize
	}
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &dedupCache{lru: expirable.NewLRU[string, taskResult](size, nil, ttl)}
}

// Get retrieves a cached result if it exists and is not expired
func (dc *dedupCache) Get(requestID string) (taskResult, bool) {
	return dc.lru.Get(requestID)
}

// Set stores a result in the cache
func (dc *dedupCache) Set(requestID string, result taskResult) {
	dc.lru.Add(requestID, result)
}

// Size returns the number of entries in the cache
func (dc *dedupCache) Size() int {
	return dc.lru.Len()
}

// Clear removes all entries from the cache
func (dc *dedupCache) Clear() {
	dc.lru.Purge()
}
