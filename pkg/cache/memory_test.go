package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestMemoryCache_GetSet(t *testing.T) {
	cache := NewMemoryCache(Config{
		MaxEntries: 100,
		DefaultTTL: time.Hour,
	})
	defer func() { _ = cache.Close() }()

	ctx := context.Background()

	// Test Set and Get
	err := cache.Set(ctx, "key1", []byte("value1"), 0)
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, err := cache.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(value) != "value1" {
		t.Errorf("expected 'value1', got '%s'", string(value))
	}

	// Test miss
	_, err = cache.Get(ctx, "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryCache_Delete(t *testing.T) {
	cache := NewMemoryCache(DefaultConfig())
	defer func() { _ = cache.Close() }()

	ctx := context.Background()

	_ = cache.Set(ctx, "key1", []byte("value1"), 0)

	err := cache.Delete(ctx, "key1")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	_, err = cache.Get(ctx, "key1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Delete nonexistent key
	err = cache.Delete(ctx, "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for nonexistent key, got %v", err)
	}
}

func TestMemoryCache_Has(t *testing.T) {
	cache := NewMemoryCache(DefaultConfig())
	defer func() { _ = cache.Close() }()

	ctx := context.Background()

	if cache.Has(ctx, "key1") {
		t.Error("expected Has to return false for nonexistent key")
	}

	_ = cache.Set(ctx, "key1", []byte("value1"), 0)

	if !cache.Has(ctx, "key1") {
		t.Error("expected Has to return true for existing key")
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	cache := NewMemoryCache(Config{
		MaxEntries:      100,
		CleanupInterval: time.Hour, // keep the sweep out of the way
	})
	defer func() { _ = cache.Close() }()

	ctx := context.Background()

	_ = cache.Set(ctx, "short", []byte("v"), 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, err := cache.Get(ctx, "short")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for expired entry, got %v", err)
	}

	stats := cache.Stats()
	if stats.Expirations != 1 {
		t.Errorf("expected 1 expiration, got %d", stats.Expirations)
	}
	if stats.Size != 0 {
		t.Errorf("expired entry should be removed, size = %d", stats.Size)
	}
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	cache := NewMemoryCache(Config{
		MaxEntries: 2,
		DefaultTTL: time.Hour,
	})
	defer func() { _ = cache.Close() }()

	ctx := context.Background()

	_ = cache.Set(ctx, "a", []byte("1"), 0)
	_ = cache.Set(ctx, "b", []byte("2"), 0)

	// Touch "a" so "b" becomes the eviction candidate
	if _, err := cache.Get(ctx, "a"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	_ = cache.Set(ctx, "c", []byte("3"), 0)

	if !cache.Has(ctx, "a") {
		t.Error("recently used 'a' should survive")
	}
	if cache.Has(ctx, "b") {
		t.Error("least recently used 'b' should be evicted")
	}
	if !cache.Has(ctx, "c") {
		t.Error("newly inserted 'c' should be present")
	}

	stats := cache.Stats()
	if stats.Evictions != 1 {
		t.Errorf("expected 1 eviction, got %d", stats.Evictions)
	}
}

func TestMemoryCache_ByteBudgetEviction(t *testing.T) {
	cache := NewMemoryCache(Config{
		MaxEntries:   100,
		MaxSizeBytes: 64,
		DefaultTTL:   time.Hour,
	})
	defer func() { _ = cache.Close() }()

	ctx := context.Background()

	// Each entry is key(1) + value(20) = 21 bytes; the fourth insert
	// must push out the oldest.
	for _, k := range []string{"a", "b", "c"} {
		if err := cache.Set(ctx, k, make([]byte, 20), 0); err != nil {
			t.Fatalf("Set %s failed: %v", k, err)
		}
	}
	_ = cache.Set(ctx, "d", make([]byte, 20), 0)

	if cache.Has(ctx, "a") {
		t.Error("oldest entry should be evicted when the byte budget fills")
	}

	stats := cache.Stats()
	if stats.SizeBytes > stats.MaxSizeBytes {
		t.Errorf("SizeBytes %d exceeds budget %d", stats.SizeBytes, stats.MaxSizeBytes)
	}
}

func TestMemoryCache_ValueTooLarge(t *testing.T) {
	cache := NewMemoryCache(Config{
		MaxEntries:   100,
		MaxSizeBytes: 32,
	})
	defer func() { _ = cache.Close() }()

	err := cache.Set(context.Background(), "big", make([]byte, 64), 0)
	if !errors.Is(err, ErrValueTooLarge) {
		t.Errorf("expected ErrValueTooLarge, got %v", err)
	}
}

func TestMemoryCache_UpdateInPlace(t *testing.T) {
	cache := NewMemoryCache(DefaultConfig())
	defer func() { _ = cache.Close() }()

	ctx := context.Background()

	_ = cache.Set(ctx, "key1", []byte("old"), 0)
	_ = cache.Set(ctx, "key1", []byte("new-longer-value"), 0)

	value, err := cache.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(value) != "new-longer-value" {
		t.Errorf("expected updated value, got '%s'", string(value))
	}

	stats := cache.Stats()
	if stats.Size != 1 {
		t.Errorf("update should not grow entry count, size = %d", stats.Size)
	}
	want := int64(len("key1") + len("new-longer-value"))
	if stats.SizeBytes != want {
		t.Errorf("expected SizeBytes %d, got %d", want, stats.SizeBytes)
	}
}

func TestMemoryCache_UpdateGrowthEvicts(t *testing.T) {
	cache := NewMemoryCache(Config{
		MaxEntries:   100,
		MaxSizeBytes: 100,
		DefaultTTL:   time.Hour,
	})
	defer func() { _ = cache.Close() }()

	ctx := context.Background()

	// Two 40-byte entries, then "b" grows to 90 bytes. The update must
	// evict "a" to hold the budget; "b" fits alone and survives.
	_ = cache.Set(ctx, "a", make([]byte, 39), 0)
	_ = cache.Set(ctx, "b", make([]byte, 39), 0)
	if err := cache.Set(ctx, "b", make([]byte, 89), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	stats := cache.Stats()
	if stats.SizeBytes > stats.MaxSizeBytes {
		t.Errorf("growing an entry broke the budget: SizeBytes %d > %d", stats.SizeBytes, stats.MaxSizeBytes)
	}
	if cache.Has(ctx, "a") {
		t.Error("coldest entry should be evicted when an update grows past the budget")
	}
	if !cache.Has(ctx, "b") {
		t.Error("the updated entry must survive its own sweep")
	}
}

func TestMemoryCache_Clear(t *testing.T) {
	cache := NewMemoryCache(DefaultConfig())
	defer func() { _ = cache.Close() }()

	ctx := context.Background()

	_ = cache.Set(ctx, "listing:1", []byte("a"), 0)
	_ = cache.Set(ctx, "listing:2", []byte("b"), 0)
	_ = cache.Set(ctx, "stats:1", []byte("c"), 0)

	// Pattern clear removes only matching keys
	if err := cache.Clear(ctx, "listing:*"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if cache.Has(ctx, "listing:1") || cache.Has(ctx, "listing:2") {
		t.Error("listing keys should be cleared")
	}
	if !cache.Has(ctx, "stats:1") {
		t.Error("non-matching key should survive pattern clear")
	}

	// Empty pattern clears everything
	if err := cache.Clear(ctx, ""); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if got := cache.Stats().Size; got != 0 {
		t.Errorf("expected empty cache, size = %d", got)
	}
}

func TestMemoryCache_Keys(t *testing.T) {
	cache := NewMemoryCache(DefaultConfig())
	defer func() { _ = cache.Close() }()

	ctx := context.Background()

	_ = cache.Set(ctx, "a", []byte("1"), 0)
	_ = cache.Set(ctx, "b", []byte("2"), 0)
	_ = cache.Set(ctx, "c", []byte("3"), 0)
	_, _ = cache.Get(ctx, "a")

	keys := cache.Keys()
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(keys))
	}
	// Most recently used first
	if keys[0] != "a" {
		t.Errorf("expected 'a' first after Get, got '%s'", keys[0])
	}
}

func TestMemoryCache_Entries(t *testing.T) {
	cache := NewMemoryCache(DefaultConfig())
	defer func() { _ = cache.Close() }()

	ctx := context.Background()

	_ = cache.Set(ctx, "key1", []byte("value1"), 0)
	_, _ = cache.Get(ctx, "key1")
	_, _ = cache.Get(ctx, "key1")

	entries := cache.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Key != "key1" {
		t.Errorf("expected key 'key1', got '%s'", e.Key)
	}
	if e.Value != nil {
		t.Error("Entries should not include values")
	}
	if e.HitCount != 2 {
		t.Errorf("expected HitCount 2, got %d", e.HitCount)
	}
}

func TestMemoryCache_Cleanup(t *testing.T) {
	cache := NewMemoryCache(Config{
		MaxEntries:      100,
		CleanupInterval: time.Hour,
	})
	defer func() { _ = cache.Close() }()

	ctx := context.Background()

	_ = cache.Set(ctx, "short1", []byte("v"), 5*time.Millisecond)
	_ = cache.Set(ctx, "short2", []byte("v"), 5*time.Millisecond)
	_ = cache.Set(ctx, "long", []byte("v"), time.Hour)

	time.Sleep(15 * time.Millisecond)

	removed := cache.Cleanup()
	if removed != 2 {
		t.Errorf("expected 2 entries cleaned up, got %d", removed)
	}
	if !cache.Has(ctx, "long") {
		t.Error("unexpired entry should survive cleanup")
	}
}

func TestMemoryCache_Stats(t *testing.T) {
	cache := NewMemoryCache(DefaultConfig())
	defer func() { _ = cache.Close() }()

	ctx := context.Background()

	_ = cache.Set(ctx, "key1", []byte("value1"), 0)
	_, _ = cache.Get(ctx, "key1")
	_, _ = cache.Get(ctx, "miss")

	stats := cache.Stats()
	if stats.Hits != 1 {
		t.Errorf("expected 1 hit, got %d", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", stats.Misses)
	}
	if stats.Sets != 1 {
		t.Errorf("expected 1 set, got %d", stats.Sets)
	}
	if got := stats.HitRate(); got != 0.5 {
		t.Errorf("expected hit rate 0.5, got %f", got)
	}
}

func TestMemoryCache_CloseTwice(t *testing.T) {
	cache := NewMemoryCache(DefaultConfig())
	if err := cache.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := cache.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	cache := NewMemoryCache(Config{
		MaxEntries: 1000,
		DefaultTTL: time.Hour,
	})
	defer func() { _ = cache.Close() }()

	ctx := context.Background()
	done := make(chan bool)

	for i := 0; i < 10; i++ {
		go func(id int) {
			defer func() { done <- true }()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d-%d", id, j)
				_ = cache.Set(ctx, key, []byte("value"), 0)
				_, _ = cache.Get(ctx, key)
			}
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

func BenchmarkMemoryCache_Get(b *testing.B) {
	cache := NewMemoryCache(DefaultConfig())
	defer func() { _ = cache.Close() }()

	ctx := context.Background()
	_ = cache.Set(ctx, "bench", make([]byte, 1024), 0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = cache.Get(ctx, "bench")
	}
}

func BenchmarkMemoryCache_Set(b *testing.B) {
	cache := NewMemoryCache(DefaultConfig())
	defer func() { _ = cache.Close() }()

	ctx := context.Background()
	value := make([]byte, 1024)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cache.Set(ctx, fmt.Sprintf("bench-%d", i%1000), value, 0)
	}
}
