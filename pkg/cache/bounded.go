package cache

import (
	"container/list"
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/tradewatch/cachecore/pkg/compress"
)

// EvictionRecord describes one forced removal. Records feed the bounded
// observability ring; nothing reads them for correctness.
type EvictionRecord struct {
	Key       string
	SizeBytes int64
	Reason    string
	Timestamp time.Time
}

// evictionHistorySize bounds the observability ring buffer.
const evictionHistorySize = 256

// BoundedConfig configures a MemoryBoundCache.
type BoundedConfig struct {
	// MaxMemoryBytes is the hard byte budget across resident entries.
	MaxMemoryBytes int64

	// CompressionThresholdBytes: values at or above this size are
	// compressed before storage.
	CompressionThresholdBytes int64

	// DefaultTTL applies to entries written without an explicit TTL.
	DefaultTTL time.Duration
}

// DefaultBoundedConfig returns sensible defaults.
func DefaultBoundedConfig() BoundedConfig {
	return BoundedConfig{
		MaxMemoryBytes:            64 * 1024 * 1024, // 64MB
		CompressionThresholdBytes: 4 * 1024,
		DefaultTTL:                time.Hour,
	}
}

// BoundedStats extends Stats with compression effectiveness.
type BoundedStats struct {
	Stats
	Compression compress.Stats
}

// MemoryBoundCache enforces a hard byte budget. Values above the
// compression threshold are stored compressed; when an insert would
// exceed the budget, entries are evicted least-recently-touched first
// until the new entry fits.
type MemoryBoundCache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // front = most recently touched
	cfg     BoundedConfig
	codec   *compress.Codec
	used    int64
	stats   Stats
	history []EvictionRecord
	histPos int
}

// NewMemoryBoundCache creates a byte-budgeted store backed by the given
// codec. A nil codec disables compression.
func NewMemoryBoundCache(cfg BoundedConfig, codec *compress.Codec) (*MemoryBoundCache, error) {
	if cfg.MaxMemoryBytes <= 0 {
		return nil, fmt.Errorf("max memory bytes must be positive, got %d", cfg.MaxMemoryBytes)
	}
	if cfg.CompressionThresholdBytes < 0 {
		return nil, fmt.Errorf("compression threshold must be non-negative, got %d", cfg.CompressionThresholdBytes)
	}
	return &MemoryBoundCache{
		items:   make(map[string]*list.Element),
		order:   list.New(),
		cfg:     cfg,
		codec:   codec,
		history: make([]EvictionRecord, 0, evictionHistorySize),
		stats: Stats{
			MaxSizeBytes: cfg.MaxMemoryBytes,
		},
	}, nil
}

// Get retrieves a value, decompressing transparently when needed.
func (c *MemoryBoundCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, ErrNotFound
	}

	item := elem.Value.(*cacheItem)
	if item.entry.IsExpired() {
		c.remove(elem)
		c.stats.Misses++
		c.stats.Expirations++
		return nil, ErrNotFound
	}

	item.entry.Touch()
	c.order.MoveToFront(elem)
	c.stats.Hits++

	if item.entry.Compressed {
		value, err := c.codec.Decompress(item.entry.Value)
		if err != nil {
			// Unreadable entry; drop it so the caller can recompute.
			c.remove(elem)
			c.stats.DecodeErrors++
			return nil, ErrNotFound
		}
		return value, nil
	}
	return item.entry.Value, nil
}

// Set stores a value within the byte budget. Evicts idle entries as
// needed; a value that cannot fit even in an empty cache is rejected.
func (c *MemoryBoundCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	stored := value
	compressed := false
	overThreshold := c.cfg.CompressionThresholdBytes > 0 && int64(len(value)) >= c.cfg.CompressionThresholdBytes
	// A value too large for the budget in raw form gets one shot at
	// fitting via compression even below the threshold.
	overBudget := int64(len(key)+len(value)) > c.cfg.MaxMemoryBytes
	if c.codec != nil && c.codec.Enabled() && (overThreshold || overBudget) {
		out, err := c.codec.Compress(value)
		if err != nil {
			return fmt.Errorf("compress %q: %w", key, err)
		}
		// Incompressible data can grow; keep whichever form is smaller.
		if len(out) < len(value) {
			stored = out
			compressed = true
		}
	}

	size := int64(len(key) + len(stored))

	c.mu.Lock()
	defer c.mu.Unlock()

	if size > c.cfg.MaxMemoryBytes {
		return ErrValueTooLarge
	}

	if elem, ok := c.items[key]; ok {
		c.remove(elem)
	}

	if !c.evictFor(size) {
		return ErrValueTooLarge
	}

	now := time.Now()
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	entry := Entry{
		Key:          key,
		Value:        stored,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		LastAccessAt: now,
		Size:         size,
		Compressed:   compressed,
	}

	elem := c.order.PushFront(&cacheItem{entry: entry})
	c.items[key] = elem
	c.used += size
	c.stats.Size++
	c.stats.SizeBytes = c.used
	c.stats.Sets++

	if compressed {
		c.codec.Record(len(value), len(stored))
	}

	return nil
}

// Delete removes a key.
func (c *MemoryBoundCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return ErrNotFound
	}
	c.remove(elem)
	c.stats.Deletes++
	return nil
}

// Has checks if a key exists and is unexpired.
func (c *MemoryBoundCache) Has(ctx context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	return !elem.Value.(*cacheItem).entry.IsExpired()
}

// Clear removes entries matching the glob pattern; empty pattern
// removes everything.
func (c *MemoryBoundCache) Clear(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pattern == "" {
		c.items = make(map[string]*list.Element)
		c.order.Init()
		c.used = 0
		c.stats.Size = 0
		c.stats.SizeBytes = 0
		return nil
	}

	var toRemove []*list.Element
	for key, elem := range c.items {
		if ok, _ := path.Match(pattern, key); ok {
			toRemove = append(toRemove, elem)
		}
	}
	for _, elem := range toRemove {
		c.remove(elem)
	}
	return nil
}

// Keys returns resident keys, most recently touched first.
func (c *MemoryBoundCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*cacheItem).entry.Key)
	}
	return keys
}

// Stats returns plain store statistics.
func (c *MemoryBoundCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.SizeBytes = c.used
	return s
}

// BoundedStats returns store statistics together with compression
// effectiveness.
func (c *MemoryBoundCache) BoundedStats() BoundedStats {
	s := BoundedStats{Stats: c.Stats()}
	if c.codec != nil {
		s.Compression = c.codec.Stats()
	}
	return s
}

// EvictionHistory returns the recorded evictions, oldest first.
func (c *MemoryBoundCache) EvictionHistory() []EvictionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]EvictionRecord, len(c.history))
	if len(c.history) < evictionHistorySize {
		copy(out, c.history)
		return out
	}
	n := copy(out, c.history[c.histPos:])
	copy(out[n:], c.history[:c.histPos])
	return out
}

// Close releases resources. The bounded cache holds none beyond its map.
func (c *MemoryBoundCache) Close() error {
	return nil
}

// evictFor frees space for an incoming entry of the given size,
// removing the least-recently-touched entries first and stopping as
// soon as the entry fits. Reports whether enough space was freed.
func (c *MemoryBoundCache) evictFor(size int64) bool {
	for c.used+size > c.cfg.MaxMemoryBytes {
		elem := c.order.Back()
		if elem == nil {
			return false
		}
		item := elem.Value.(*cacheItem)
		c.recordEviction(EvictionRecord{
			Key:       item.entry.Key,
			SizeBytes: item.entry.Size,
			Reason:    "memory pressure",
			Timestamp: time.Now(),
		})
		c.remove(elem)
		c.stats.Evictions++
	}
	return true
}

func (c *MemoryBoundCache) remove(elem *list.Element) {
	item := elem.Value.(*cacheItem)
	delete(c.items, item.entry.Key)
	c.order.Remove(elem)
	c.used -= item.entry.Size
	c.stats.Size--
	c.stats.SizeBytes = c.used
}

func (c *MemoryBoundCache) recordEviction(rec EvictionRecord) {
	if len(c.history) < evictionHistorySize {
		c.history = append(c.history, rec)
		return
	}
	c.history[c.histPos] = rec
	c.histPos = (c.histPos + 1) % evictionHistorySize
}
