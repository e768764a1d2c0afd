package agent

import (
	"testing"
	"time"
)

func TestCacheGetSet(t *testing.T) {
	cache := NewCache(time.Minute)

	t.Run("miss on empty cache", func(t *testing.T) {
		if _, ok := cache.Get("search", map[string]any{"q": "go"}); ok {
			t.Fatal("expected miss")
		}
	})

	t.Run("hit after set", func(t *testing.T) {
		cache.Set("search", map[string]any{"q": "go"}, "result", 0)
		v, ok := cache.Get("search", map[string]any{"q": "go"})
		if !ok {
			t.Fatal("expected hit")
		}
		if v != "result" {
			t.Errorf("expected %q, got %v", "result", v)
		}
	})

	t.Run("key is insensitive to map iteration order", func(t *testing.T) {
		cache.Set("multi", map[string]any{"a": 1, "b": 2, "c": 3}, "v", 0)
		if _, ok := cache.Get("multi", map[string]any{"c": 3, "a": 1, "b": 2}); !ok {
			t.Error("expected hit for logically equal args")
		}
	})

	t.Run("different args miss", func(t *testing.T) {
		if _, ok := cache.Get("search", map[string]any{"q": "rust"}); ok {
			t.Error("expected miss for different args")
		}
	})
}

func TestCacheExpiry(t *testing.T) {
	cache := NewCache(time.Minute)
	cache.Set("clock", nil, "10:00", 10*time.Millisecond)

	if _, ok := cache.Get("clock", nil); !ok {
		t.Fatal("expected hit before expiry")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := cache.Get("clock", nil); ok {
		t.Fatal("expected miss after expiry")
	}

	stats := cache.Stats()
	if stats.Evictions != 1 {
		t.Errorf("expected 1 eviction, got %d", stats.Evictions)
	}
}

func TestCacheInvalidate(t *testing.T) {
	t.Run("specific args", func(t *testing.T) {
		cache := NewCache(time.Minute)
		cache.Set("search", map[string]any{"q": "a"}, 1, 0)
		cache.Set("search", map[string]any{"q": "b"}, 2, 0)

		if n := cache.Invalidate("search", map[string]any{"q": "a"}); n != 1 {
			t.Fatalf("expected 1 removed, got %d", n)
		}
		if _, ok := cache.Get("search", map[string]any{"q": "a"}); ok {
			t.Error("invalidated entry still present")
		}
		if _, ok := cache.Get("search", map[string]any{"q": "b"}); !ok {
			t.Error("unrelated entry was removed")
		}
	})

	t.Run("whole tool", func(t *testing.T) {
		cache := NewCache(time.Minute)
		cache.Set("search", map[string]any{"q": "a"}, 1, 0)
		cache.Set("search", map[string]any{"q": "b"}, 2, 0)
		cache.Set("other", map[string]any{"q": "a"}, 3, 0)

		if n := cache.Invalidate("search", nil); n != 2 {
			t.Fatalf("expected 2 removed, got %d", n)
		}
		if _, ok := cache.Get("other", map[string]any{"q": "a"}); !ok {
			t.Error("other tool's entry was removed")
		}
	})
}

func TestCacheCleanup(t *testing.T) {
	cache := NewCache(time.Minute)
	cache.Set("a", nil, 1, 5*time.Millisecond)
	cache.Set("b", nil, 2, time.Minute)

	time.Sleep(10 * time.Millisecond)
	if removed := cache.Cleanup(); removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, ok := cache.Get("b", nil); !ok {
		t.Error("fresh entry was removed by cleanup")
	}
}

func TestCacheStats(t *testing.T) {
	cache := NewCache(time.Minute)
	cache.Set("t", nil, 1, 0)
	cache.Get("t", nil)
	cache.Get("t", map[string]any{"x": 1})

	stats := cache.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Entries != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestCanonicalJSON(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"empty", nil, "{}"},
		{"sorted keys", map[string]any{"b": 2, "a": 1}, `{"a":1,"b":2}`},
		{"nested", map[string]any{"x": map[string]any{"k": "v"}}, `{"x":{"k":"v"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := canonicalJSON(tt.args); got != tt.want {
				t.Errorf("canonicalJSON() = %s, want %s", got, tt.want)
			}
		})
	}
}
