package cache

import (
	"strings"
	"testing"
)

func TestHashKey(t *testing.T) {
	h1 := HashKey("hello")
	h2 := HashKey("hello")
	h3 := HashKey("world")

	if h1 != h2 {
		t.Error("same input should hash identically")
	}
	if h1 == h3 {
		t.Error("different inputs should hash differently")
	}
	if len(h1) != 16 {
		t.Errorf("expected 16 hex chars, got %d", len(h1))
	}
}

func TestDeriveKey(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		args   []string
		want   string
	}{
		{"no args", "price", nil, "price"},
		{"single arg", "price", []string{"BTC"}, "price:BTC"},
		{"multiple args", "price", []string{"BTC", "USD"}, "price:BTC:USD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveKey(tt.prefix, tt.args...); got != tt.want {
				t.Errorf("DeriveKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDeriveKey_LongArgsHashed(t *testing.T) {
	long := strings.Repeat("x", 200)
	key := DeriveKey("search", long)

	if strings.Contains(key, long) {
		t.Error("long argument should be hashed, not embedded")
	}
	if len(key) > len("search:")+16 {
		t.Errorf("derived key too long: %d chars", len(key))
	}
	// Deterministic
	if key != DeriveKey("search", long) {
		t.Error("derivation should be deterministic")
	}
}

func TestQueryKey(t *testing.T) {
	k1 := QueryKey("search", "bitcoin price history", 50)
	k2 := QueryKey("search", "bitcoin price history", 50)
	k3 := QueryKey("search", "bitcoin price history", 100)
	k4 := QueryKey("search", "ethereum price history", 50)

	if k1 != k2 {
		t.Error("same query and limit should derive the same key")
	}
	if k1 == k3 {
		t.Error("different limits should derive different keys")
	}
	if k1 == k4 {
		t.Error("different queries should derive different keys")
	}
	if !strings.HasPrefix(k1, "search:query:") {
		t.Errorf("unexpected key shape: %q", k1)
	}
	if strings.Contains(k1, "bitcoin") {
		t.Error("free-text query should never appear in the key")
	}
}
