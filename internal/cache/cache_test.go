package cache

import (
	"testing"
	"time"
)

func TestCache_Expiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New[int](2 * time.Second)
	c.now = func() time.Time { return now }

	c.Set("a", 1)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected 1, got %v ok=%v", v, ok)
	}

	now = now.Add(3 * time.Second)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected entry to expire")
	}
}

func TestCache_GetOrLoad(t *testing.T) {
	c := New[string](time.Minute)

	calls := 0
	load := func() string {
		calls++
		return "v"
	}

	for i := 0; i < 3; i++ {
		if got := c.GetOrLoad("k", load); got != "v" {
			t.Fatalf("expected v, got %s", got)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one load, got %d", calls)
	}

	c.Delete("k")
	c.GetOrLoad("k", load)
	if calls != 2 {
		t.Fatalf("expected reload after delete, got %d", calls)
	}
}
