package dataset

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/tsawler/go-hfs/scene"
)

// levelKey identifies one view at one resolution level.
type levelKey struct {
	image int
	level int
}

// imageCache keeps the most recently used downsampled images so repeated
// validation at the same level does not resample.
type imageCache struct {
	mu      sync.Mutex
	entries map[levelKey]*list.Element
	lru     *list.List
	maxSize int

	hits   int64
	misses int64
}

type cacheEntry struct {
	key levelKey
	img *scene.Image
}

func newImageCache(maxSize int) *imageCache {
	return &imageCache{
		entries: make(map[levelKey]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
	}
}

// getOrCreate returns the cached image for key or builds and stores it.
func (c *imageCache) getOrCreate(key levelKey, build func() *scene.Image) *scene.Image {
	if c == nil || c.maxSize <= 0 {
		return build()
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.lru.MoveToFront(elem)
		c.hits++
		return elem.Value.(*cacheEntry).img
	}
	c.misses++

	img := build()
	c.entries[key] = c.lru.PushFront(&cacheEntry{key: key, img: img})
	for c.lru.Len() > c.maxSize {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
	return img
}

func (c *imageCache) stats() CacheStats {
	if c == nil {
		return CacheStats{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := CacheStats{Size: c.lru.Len(), MaxSize: c.maxSize, Hits: c.hits, Misses: c.misses}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total) * 100
	}
	return s
}

// CacheStats reports downsampled image cache usage.
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    int64
	Misses  int64
	HitRate float64
}

func (cs CacheStats) String() string {
	return fmt.Sprintf("Cache: %d/%d items, Hits: %d, Misses: %d, Hit Rate: %.1f%%",
		cs.Size, cs.MaxSize, cs.Hits, cs.Misses, cs.HitRate)
}
