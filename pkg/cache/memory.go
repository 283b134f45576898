package cache

import (
	"container/list"
	"context"
	"path"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryCache is the bounded in-process L1 store. It keeps entries in
// least-recently-used order; every successful Get and every Set on an
// existing key moves the entry to the most-recently-used end. Expiry is
// checked lazily on Get and by a background sweep.
type MemoryCache struct {
	mu      sync.RWMutex
	items   map[string]*list.Element
	lru     *list.List
	cfg     Config
	stats   Stats
	stopCh  chan struct{}
	stopped atomic.Bool
}

type cacheItem struct {
	entry Entry
}

// NewMemoryCache creates a new in-memory LRU store.
func NewMemoryCache(cfg Config) *MemoryCache {
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = DefaultConfig().CleanupInterval
	}

	c := &MemoryCache{
		items:  make(map[string]*list.Element),
		lru:    list.New(),
		cfg:    cfg,
		stopCh: make(chan struct{}),
		stats: Stats{
			MaxSize:      cfg.MaxEntries,
			MaxSizeBytes: cfg.MaxSizeBytes,
		},
	}

	go c.cleanupLoop()

	return c
}

// Get retrieves a value by key. An expired entry is removed and counted
// as a miss.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		atomic.AddInt64(&c.stats.Misses, 1)
		return nil, ErrNotFound
	}

	item := elem.Value.(*cacheItem)

	if item.entry.IsExpired() {
		c.removeElement(elem)
		atomic.AddInt64(&c.stats.Misses, 1)
		atomic.AddInt64(&c.stats.Expirations, 1)
		return nil, ErrNotFound
	}

	item.entry.Touch()
	c.lru.MoveToFront(elem)
	atomic.AddInt64(&c.stats.Hits, 1)

	return item.entry.Value, nil
}

// Set stores a value with optional TTL. Inserting beyond MaxEntries
// evicts from the least-recently-used end.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := int64(len(key) + len(value))

	if c.cfg.MaxSizeBytes > 0 && size > c.cfg.MaxSizeBytes {
		return ErrValueTooLarge
	}

	now := time.Now()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	} else if c.cfg.DefaultTTL > 0 {
		expiresAt = now.Add(c.cfg.DefaultTTL)
	}

	entry := Entry{
		Key:          key,
		Value:        value,
		CreatedAt:    now,
		ExpiresAt:    expiresAt,
		LastAccessAt: now,
		Size:         size,
	}

	// Update existing entry in place. Growing an entry can push the
	// store past the byte budget, so sweep from the cold end; the
	// updated entry sits at the front and fits alone, it is never the
	// one removed.
	if elem, ok := c.items[key]; ok {
		oldItem := elem.Value.(*cacheItem)
		atomic.AddInt64(&c.stats.SizeBytes, size-oldItem.entry.Size)
		elem.Value = &cacheItem{entry: entry}
		c.lru.MoveToFront(elem)
		for c.cfg.MaxSizeBytes > 0 && atomic.LoadInt64(&c.stats.SizeBytes) > c.cfg.MaxSizeBytes && c.lru.Len() > 1 {
			c.evictOldest()
		}
		atomic.AddInt64(&c.stats.Sets, 1)
		return nil
	}

	for c.needsEviction(size) {
		c.evictOldest()
	}

	elem := c.lru.PushFront(&cacheItem{entry: entry})
	c.items[key] = elem
	atomic.AddInt64(&c.stats.Size, 1)
	atomic.AddInt64(&c.stats.SizeBytes, size)
	atomic.AddInt64(&c.stats.Sets, 1)

	return nil
}

// Delete removes a key from the cache.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return ErrNotFound
	}

	c.removeElement(elem)
	atomic.AddInt64(&c.stats.Deletes, 1)
	return nil
}

// Has checks if a key exists without affecting recency order.
func (c *MemoryCache) Has(ctx context.Context, key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}

	item := elem.Value.(*cacheItem)
	return !item.entry.IsExpired()
}

// Clear removes entries matching the glob pattern. An empty pattern
// removes everything.
func (c *MemoryCache) Clear(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pattern == "" {
		c.items = make(map[string]*list.Element)
		c.lru.Init()
		atomic.StoreInt64(&c.stats.Size, 0)
		atomic.StoreInt64(&c.stats.SizeBytes, 0)
		return nil
	}

	var toRemove []*list.Element
	for key, elem := range c.items {
		if ok, _ := path.Match(pattern, key); ok {
			toRemove = append(toRemove, elem)
		}
	}
	for _, elem := range toRemove {
		c.removeElement(elem)
	}

	return nil
}

// Keys returns the resident keys, most recently used first.
func (c *MemoryCache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.items))
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*cacheItem).entry.Key)
	}
	return keys
}

// Entries returns a snapshot of resident entries without their values.
// Used by eviction policies that score candidates on metadata.
func (c *MemoryCache) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]Entry, 0, len(c.items))
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		e := elem.Value.(*cacheItem).entry
		e.Value = nil
		entries = append(entries, e)
	}
	return entries
}

// Stats returns cache statistics.
func (c *MemoryCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Stats{
		Hits:         atomic.LoadInt64(&c.stats.Hits),
		Misses:       atomic.LoadInt64(&c.stats.Misses),
		Sets:         atomic.LoadInt64(&c.stats.Sets),
		Deletes:      atomic.LoadInt64(&c.stats.Deletes),
		Evictions:    atomic.LoadInt64(&c.stats.Evictions),
		Expirations:  atomic.LoadInt64(&c.stats.Expirations),
		Size:         atomic.LoadInt64(&c.stats.Size),
		SizeBytes:    atomic.LoadInt64(&c.stats.SizeBytes),
		MaxSize:      c.cfg.MaxEntries,
		MaxSizeBytes: c.cfg.MaxSizeBytes,
	}
}

// Close stops the cleanup goroutine and releases resources.
func (c *MemoryCache) Close() error {
	if c.stopped.CompareAndSwap(false, true) {
		close(c.stopCh)
	}
	return nil
}

// needsEviction checks if we need to evict entries.
func (c *MemoryCache) needsEviction(additionalSize int64) bool {
	if c.cfg.MaxEntries > 0 && atomic.LoadInt64(&c.stats.Size) >= c.cfg.MaxEntries {
		return true
	}
	if c.cfg.MaxSizeBytes > 0 && atomic.LoadInt64(&c.stats.SizeBytes)+additionalSize > c.cfg.MaxSizeBytes {
		return true
	}
	return false
}

// evictOldest removes the least recently used entry.
func (c *MemoryCache) evictOldest() {
	elem := c.lru.Back()
	if elem == nil {
		return
	}
	c.removeElement(elem)
	atomic.AddInt64(&c.stats.Evictions, 1)
}

// removeElement removes an element from the cache.
func (c *MemoryCache) removeElement(elem *list.Element) {
	item := elem.Value.(*cacheItem)
	delete(c.items, item.entry.Key)
	c.lru.Remove(elem)
	atomic.AddInt64(&c.stats.Size, -1)
	atomic.AddInt64(&c.stats.SizeBytes, -item.entry.Size)
}

// cleanupLoop periodically removes expired entries.
func (c *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Cleanup()
		case <-c.stopCh:
			return
		}
	}
}

// Cleanup removes all expired entries and returns how many were removed.
func (c *MemoryCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var toRemove []*list.Element

	for elem := c.lru.Back(); elem != nil; elem = elem.Prev() {
		item := elem.Value.(*cacheItem)
		if !item.entry.ExpiresAt.IsZero() && now.After(item.entry.ExpiresAt) {
			toRemove = append(toRemove, elem)
		}
	}

	for _, elem := range toRemove {
		c.removeElement(elem)
		atomic.AddInt64(&c.stats.Expirations, 1)
	}

	return len(toRemove)
}
