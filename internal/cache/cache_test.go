package cache

import (
	"testing"
	"time"
)

func TestLRUCacheEviction(t *testing.T) {
	c := NewLRUCache[string](3, time.Hour)

	c.Set("key1", "value1")
	c.Set("key2", "value2")
	c.Set("key3", "value3")
	c.Set("key4", "value4")

	if _, ok := c.Get("key1"); ok {
		t.Error("key1 should have been evicted")
	}
	for _, key := range []string{"key2", "key3", "key4"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("%s should still be cached", key)
		}
	}
	if got := c.Size(); got != 3 {
		t.Errorf("Size() = %d, want 3", got)
	}
}

func TestLRUCacheRecency(t *testing.T) {
	c := NewLRUCache[string](3, time.Hour)

	c.Set("key1", "value1")
	c.Set("key2", "value2")
	c.Set("key3", "value3")

	// Touch key1 so key2 becomes the eviction candidate.
	if _, ok := c.Get("key1"); !ok {
		t.Fatal("key1 missing before eviction")
	}
	c.Set("key4", "value4")

	if _, ok := c.Get("key2"); ok {
		t.Error("key2 should have been evicted")
	}
	if _, ok := c.Get("key1"); !ok {
		t.Error("key1 should have survived")
	}
}

func TestLRUCacheTTL(t *testing.T) {
	c := NewLRUCache[string](10, 25*time.Millisecond)

	c.Set("key1", "value1")
	if v, ok := c.Get("key1"); !ok || v != "value1" {
		t.Fatalf("Get right after Set = %q, %v", v, ok)
	}

	time.Sleep(100 * time.Millisecond)

	if _, ok := c.Get("key1"); ok {
		t.Error("expired entry should not be returned")
	}
}

func TestLRUCacheUpdateResetsTTL(t *testing.T) {
	c := NewLRUCache[int](10, 100*time.Millisecond)

	c.Set("key1", 1)
	time.Sleep(60 * time.Millisecond)
	c.Set("key1", 2)
	time.Sleep(60 * time.Millisecond)

	if v, ok := c.Get("key1"); !ok || v != 2 {
		t.Errorf("Get after refresh = %d, %v; want 2, true", v, ok)
	}
}

func TestLRUCacheClear(t *testing.T) {
	c := NewLRUCache[string](10, time.Hour)
	c.Set("key1", "value1")
	c.Set("key2", "value2")

	if n := c.Clear(); n != 2 {
		t.Errorf("Clear() = %d, want 2", n)
	}
	if got := c.Size(); got != 0 {
		t.Errorf("Size() after Clear = %d, want 0", got)
	}
	if _, ok := c.Get("key1"); ok {
		t.Error("cleared entry still readable")
	}

	// The cache stays usable after a clear.
	c.Set("key3", "value3")
	if _, ok := c.Get("key3"); !ok {
		t.Error("Set after Clear did not stick")
	}
}

func TestLRUCacheCleanExpired(t *testing.T) {
	c := NewLRUCache[string](10, 25*time.Millisecond)

	c.Set("key1", "value1")
	c.Set("key2", "value2")
	time.Sleep(100 * time.Millisecond)
	c.Set("key3", "value3")

	if n := c.CleanExpired(); n != 2 {
		t.Errorf("CleanExpired() = %d, want 2", n)
	}
	if got := c.Size(); got != 1 {
		t.Errorf("Size() = %d, want 1", got)
	}
	if _, ok := c.Get("key3"); !ok {
		t.Error("fresh entry swept away")
	}
}

func TestManagerSweep(t *testing.T) {
	c := NewLRUCache[string](10, 10*time.Millisecond)
	m := NewManager()
	m.Register(c)
	m.Start(10 * time.Millisecond)
	defer m.Stop()

	c.Set("key1", "value1")
	c.Set("key2", "value2")

	deadline := time.Now().Add(2 * time.Second)
	for c.Size() > 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if got := c.Size(); got != 0 {
		t.Errorf("Size() = %d after sweep window, want 0", got)
	}
}

func TestManagerStopIsSafe(t *testing.T) {
	m := NewManager()
	m.Stop() // never started

	m.Start(time.Hour)
	m.Stop()
	m.Stop() // second stop is a no-op
}
