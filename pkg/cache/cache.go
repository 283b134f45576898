// Package cache implements the layered caching core of tradewatch: a
// bounded in-process L1 store, a best-effort Redis L2 tier, a
// memory-budgeted store with transparent compression, and the manager
// that orchestrates the read/write path across them.
package cache

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	ErrNotFound      = errors.New("key not found")
	ErrKeyTooLarge   = errors.New("key exceeds maximum size")
	ErrValueTooLarge = errors.New("value exceeds memory budget")
	ErrClosed        = errors.New("cache is closed")
)

// Store defines the contract a single cache tier implements.
type Store interface {
	// Get retrieves a value by key. Returns ErrNotFound if not present
	// or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with optional TTL. Zero TTL means the store's
	// default expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Returns ErrNotFound if the key was absent.
	Delete(ctx context.Context, key string) error

	// Has checks if a key exists without touching recency order.
	Has(ctx context.Context, key string) bool

	// Clear removes entries matching the glob pattern; empty pattern
	// removes everything.
	Clear(ctx context.Context, pattern string) error

	// Keys returns the keys currently resident in the store.
	Keys() []string

	// Stats returns cache statistics.
	Stats() Stats

	// Close releases resources.
	Close() error
}

// Remote is the contract the distributed tier implements: a Store
// holding serialized envelopes, plus accounting for payloads the
// manager failed to decode.
type Remote interface {
	Store
	RecordDecodeError()
}

// Stats holds per-store performance counters.
type Stats struct {
	// Hits is the number of successful retrievals.
	Hits int64

	// Misses is the number of lookups that found nothing.
	Misses int64

	// Sets is the number of writes.
	Sets int64

	// Deletes is the number of explicit deletions.
	Deletes int64

	// Evictions is the number of entries removed to satisfy capacity.
	Evictions int64

	// Expirations is the number of entries removed due to TTL.
	Expirations int64

	// Errors counts backend failures (network tiers only).
	Errors int64

	// DecodeErrors counts payloads that failed to decode; each is
	// treated as a miss.
	DecodeErrors int64

	// Size is the current number of entries.
	Size int64

	// SizeBytes is the current memory footprint in bytes.
	SizeBytes int64

	// MaxSize is the maximum number of entries allowed.
	MaxSize int64

	// MaxSizeBytes is the memory budget in bytes.
	MaxSizeBytes int64
}

// HitRate returns the hit rate as a fraction in [0,1].
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Utilization returns the fraction of the byte budget in use.
func (s Stats) Utilization() float64 {
	if s.MaxSizeBytes == 0 {
		return 0
	}
	return float64(s.SizeBytes) / float64(s.MaxSizeBytes)
}

// Entry represents a cached item as held by an in-process store. An
// entry is owned exclusively by the store holding it; the L2 tier keeps
// an independent serialized copy.
type Entry struct {
	Key          string
	Value        []byte
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastAccessAt time.Time
	HitCount     int64
	Size         int64
	Compressed   bool
}

// IsExpired checks if the entry has expired.
func (e Entry) IsExpired() bool {
	if e.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(e.ExpiresAt)
}

// Touch records a successful read.
func (e *Entry) Touch() {
	e.HitCount++
	e.LastAccessAt = time.Now()
}

// IdleTime returns how long the entry has gone unread.
func (e Entry) IdleTime() time.Duration {
	last := e.LastAccessAt
	if last.IsZero() {
		last = e.CreatedAt
	}
	return time.Since(last)
}

// Config holds settings for the in-process stores.
type Config struct {
	// MaxEntries is the maximum number of L1 entries (0 = default).
	MaxEntries int64

	// MaxSizeBytes is the memory budget for byte-bounded stores
	// (0 = unlimited).
	MaxSizeBytes int64

	// DefaultTTL applies to entries written without an explicit TTL.
	DefaultTTL time.Duration

	// CleanupInterval is how often the background expiry sweep runs.
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxEntries:      10000,
		MaxSizeBytes:    100 * 1024 * 1024, // 100MB
		DefaultTTL:      time.Hour,
		CleanupInterval: time.Minute,
	}
}
