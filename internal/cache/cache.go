package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEntries is the fallback capacity when none is configured.
const DefaultEntries = 256

// Key identifies one decoded rendition of an image payload.
type Key struct {
	Variant string
	ImageID int64
}

// Cache holds decoded payload bytes so repeated loads skip the block read
// and decrypt. Bounded LRU; session lifetime; entries are also dropped
// explicitly when their image is deleted or rewritten.
type Cache struct {
	lru *lru.Cache[Key, []byte]
}

// New creates a cache holding up to entries decoded payloads.
func New(entries int) (*Cache, error) {
	if entries <= 0 {
		entries = DefaultEntries
	}
	inner, err := lru.New[Key, []byte](entries)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: inner}, nil
}

// Get returns the cached payload for key, if present.
func (c *Cache) Get(key Key) ([]byte, bool) {
	return c.lru.Get(key)
}

// Put stores a decoded payload under key.
func (c *Cache) Put(key Key, data []byte) {
	c.lru.Add(key, data)
}

// Drop removes one rendition.
func (c *Cache) Drop(key Key) {
	c.lru.Remove(key)
}

// DropImage removes every cached rendition of an image.
func (c *Cache) DropImage(imageID int64) {
	for _, key := range c.lru.Keys() {
		if key.ImageID == imageID {
			c.lru.Remove(key)
		}
	}
}

// Len returns the number of cached renditions.
func (c *Cache) Len() int {
	return c.lru.Len()
}
