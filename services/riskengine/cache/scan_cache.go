// Copyright (C) 2026 Kodiak Security Labs (engineering@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache provides result caching for full-model scans.
//
// # Description
//
// Consistency and cascade scans are deterministic functions of the
// model generation, so their results are cached under a key that
// embeds the generation. A write bumps the generation, which makes
// every older entry unreachable: no explicit invalidation is needed.
// Concurrent requests for the same key collapse into a single
// computation via singleflight.
//
// # Thread Safety
//
// Safe for concurrent use. A mutex guards the entry map and LRU list;
// singleflight deduplicates in-flight computations.
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// DefaultCapacity bounds retained scan results. Old generations are
// dead weight, so the bound stays small.
const DefaultCapacity = 16

// ComputeFunc produces the value for a cache miss.
type ComputeFunc func() (any, error)

// ScanCache is a generation-keyed LRU cache for scan reports.
type ScanCache struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	lru      *list.List
	capacity int
	flight   singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	key   string
	value any
}

// NewScanCache creates a cache with the given capacity; zero or
// negative means DefaultCapacity.
func NewScanCache(capacity int) *ScanCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ScanCache{
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
		capacity: capacity,
	}
}

// Key builds the cache key for a scan kind at a model generation.
func Key(kind string, generation uint64) string {
	return fmt.Sprintf("%s:%d", kind, generation)
}

// GetOrCompute returns the cached value for key, computing it at most
// once across concurrent callers. hit reports whether the value came
// from cache.
func (c *ScanCache) GetOrCompute(key string, compute ComputeFunc) (value any, hit bool, err error) {
	c.mu.Lock()
	if el, ok := c.entries[key]; ok {
		c.lru.MoveToFront(el)
		c.mu.Unlock()
		c.hits.Add(1)
		return el.Value.(*cacheEntry).value, true, nil
	}
	c.mu.Unlock()
	c.misses.Add(1)

	v, err, _ := c.flight.Do(key, func() (any, error) {
		// Another caller may have stored the value while this one
		// waited on the flight group.
		c.mu.Lock()
		if el, ok := c.entries[key]; ok {
			c.lru.MoveToFront(el)
			c.mu.Unlock()
			return el.Value.(*cacheEntry).value, nil
		}
		c.mu.Unlock()

		computed, err := compute()
		if err != nil {
			return nil, err
		}
		c.store(key, computed)
		return computed, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v, false, nil
}

// store inserts a value and evicts the oldest entry past capacity.
func (c *ScanCache) store(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).value = value
		c.lru.MoveToFront(el)
		return
	}
	el := c.lru.PushFront(&cacheEntry{key: key, value: value})
	c.entries[key] = el
	for c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// Stats returns cumulative hit and miss counts.
func (c *ScanCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of retained entries.
func (c *ScanCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
