package arref

import (
	"sync"
	"time"

	"github.com/couchcryptid/gprof-ar-grid/internal/domain"
	"github.com/couchcryptid/gprof-ar-grid/internal/observability"
)

// CachedIndexer wraps an AR reference with an in-memory LRU cache of
// nearest-timestep lookups. Swaths are minute-resolution and neighbouring
// cells share scan times, so most lookups repeat.
type CachedIndexer struct {
	inner   domain.ARReference
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedIndexer creates a cache decorator around a reference. metrics may be nil.
func NewCachedIndexer(inner domain.ARReference, maxEntries int, metrics *observability.Metrics) *CachedIndexer {
	return &CachedIndexer{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

// NearestIndex resolves t through the cache, keyed by Unix second, and
// falls through to the wrapped reference on a miss. Errors are not cached.
func (c *CachedIndexer) NearestIndex(t time.Time) (int, error) {
	key := t.Unix()
	if k, ok := c.cache.get(key); ok {
		c.observe("hit")
		return k, nil
	}
	c.observe("miss")

	k, err := c.inner.NearestIndex(t)
	if err != nil {
		return 0, err
	}
	c.cache.put(key, k)
	return k, nil
}

// FlagAt delegates to the wrapped reference.
func (c *CachedIndexer) FlagAt(k, i, j int) float64 { return c.inner.FlagAt(k, i, j) }

// Dims delegates to the wrapped reference.
func (c *CachedIndexer) Dims() (rows, cols int) { return c.inner.Dims() }

func (c *CachedIndexer) observe(result string) {
	if c.metrics != nil {
		c.metrics.ARIndexCache.WithLabelValues(result).Inc()
	}
}

// lruCache is a simple thread-safe LRU cache from Unix seconds to timestep index.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[int64]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   int64
	value int
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[int64]*entry),
	}
}

func (c *lruCache) get(key int64) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key int64, value int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
