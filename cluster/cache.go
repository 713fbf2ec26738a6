package cluster

import (
	"container/list"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultCacheEntries = 10
	DefaultCacheTTL     = 5 * time.Minute
)

// ResultCache memoizes clustering output keyed by the input
// fingerprint from CacheKey.
type ResultCache interface {
	Get(key string) ([]Result, bool)
	Set(key string, results []Result)
	Len() int
	Clear()
}

type cacheEntry struct {
	key       string
	results   []Result
	createdAt time.Time
}

// MemoryResultCache is a bounded in-memory LRU with lazy TTL expiry.
// Get refreshes recency; Set evicts the least-recently-used entry
// when over capacity. Safe for concurrent use.
type MemoryResultCache struct {
	mu         sync.Mutex
	maxEntries int
	ttl        time.Duration
	items      map[string]*list.Element
	lruList    *list.List

	now func() time.Time // overridable in tests
}

// NewMemoryResultCache creates an LRU result cache. Non-positive
// maxEntries or ttl fall back to the defaults.
func NewMemoryResultCache(maxEntries int, ttl time.Duration) *MemoryResultCache {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheEntries
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryResultCache{
		maxEntries: maxEntries,
		ttl:        ttl,
		items:      make(map[string]*list.Element),
		lruList:    list.New(),
		now:        time.Now,
	}
}

func (c *MemoryResultCache) Get(key string) ([]Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}

	ent := elem.Value.(*cacheEntry)
	if c.now().Sub(ent.createdAt) > c.ttl {
		c.removeLocked(elem)
		return nil, false
	}
	for _, r := range ent.results {
		// A malformed entry is a miss, never malformed data.
		if !validResult(r) {
			c.removeLocked(elem)
			return nil, false
		}
	}

	c.lruList.MoveToFront(elem)
	return ent.results, true
}

func (c *MemoryResultCache) Set(key string, results []Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*cacheEntry)
		ent.results = results
		ent.createdAt = c.now()
		c.lruList.MoveToFront(elem)
		return
	}

	if c.lruList.Len() >= c.maxEntries {
		if oldest := c.lruList.Back(); oldest != nil {
			c.removeLocked(oldest)
		}
	}

	ent := &cacheEntry{key: key, results: results, createdAt: c.now()}
	c.items[key] = c.lruList.PushFront(ent)
}

func (c *MemoryResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

func (c *MemoryResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.lruList = list.New()
}

func (c *MemoryResultCache) removeLocked(elem *list.Element) {
	delete(c.items, elem.Value.(*cacheEntry).key)
	c.lruList.Remove(elem)
}

// NoopResultCache never hits; every call recomputes.
type NoopResultCache struct{}

func NewNoopResultCache() *NoopResultCache { return &NoopResultCache{} }

func (*NoopResultCache) Get(string) ([]Result, bool) { return nil, false }
func (*NoopResultCache) Set(string, []Result)        {}
func (*NoopResultCache) Len() int                    { return 0 }
func (*NoopResultCache) Clear()                      {}

// NewResultCache creates a cache instance based on the cache kind.
func NewResultCache(kind string, maxEntries int, ttl time.Duration, log *zap.Logger) (ResultCache, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch kind {
	case "memory":
		log.Info("Using memory result cache",
			zap.Int("max_entries", maxEntries), zap.Duration("ttl", ttl))
		return NewMemoryResultCache(maxEntries, ttl), nil
	case "disabled":
		log.Info("Result cache disabled")
		return NewNoopResultCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache kind: %s (supported: memory, disabled)", kind)
	}
}

// CacheKey fingerprints a clustering input: the point-id multiset
// (order-independent) and the zoom bucket, zoom rounded to one
// decimal so visually identical zooms share an entry.
func CacheKey(points []Point, zoom float64) string {
	ids := make([]string, len(points))
	for i, p := range points {
		ids[i] = p.ID
	}
	sort.Strings(ids)

	h := fnv.New64a()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}

	return fmt.Sprintf("%016x:z%.1f", h.Sum64(), ZoomBucket(zoom))
}
