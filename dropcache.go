/* Copyright (c) 2018-2021 Waldemar Augustyn */

package main

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// dropCacheSize bounds the number of distinct drop reasons remembered
// before the oldest is evicted; it is not a correctness knob, only a
// log-noise control.
const dropCacheSize = 512

// DropCache deduplicates repeated "dropped as covered"/"ignored network"
// log lines: a given (prefix, reason) pair logs once, then is suppressed
// until it ages out of the cache.
type DropCache struct {
	seen *lru.Cache[string, struct{}]
}

func NewDropCache() *DropCache {

	c, err := lru.New[string, struct{}](dropCacheSize)
	if err != nil {
		// only returns an error for a non-positive size, which is a
		// programmer error, not a runtime condition.
		panic(err)
	}
	return &DropCache{seen: c}
}

// Once reports whether (prefix, reason) has already been logged; it also
// records the pair so subsequent calls with the same key report false
// until evicted.
func (c *DropCache) Once(prefix Prefix, reason string) bool {

	key := prefix.String() + "|" + reason
	if c.seen.Contains(key) {
		return false
	}
	c.seen.Add(key, struct{}{})
	return true
}
