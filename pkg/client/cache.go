package client

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// QueryCache keeps recent GET responses in memory.
type QueryCache struct {
	lru *expirable.LRU[string, []byte]
}

// NewQueryCache holds up to size responses for ttl each.
func NewQueryCache(size int, ttl time.Duration) *QueryCache {
	if size <= 0 {
		size = 256
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &QueryCache{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

// Get returns the cached body for key.
func (c *QueryCache) Get(key string) ([]byte, bool) {
	return c.lru.Get(key)
}

// Set stores body under key.
func (c *QueryCache) Set(key string, body []byte) {
	c.lru.Add(key, body)
}

// Invalidate drops key.
func (c *QueryCache) Invalidate(key string) {
	c.lru.Remove(key)
}

// InvalidatePrefix drops every key starting with prefix.
func (c *QueryCache) InvalidatePrefix(prefix string) {
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
}

// Len reports the number of cached responses.
func (c *QueryCache) Len() int {
	return c.lru.Len()
}
