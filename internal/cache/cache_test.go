package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestCache_GetSet(t *testing.T) {
	c := New[int](10, time.Minute)

	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected miss for absent key")
	}

	c.Set("a", 1)
	v, ok := c.Get("a")
	if !ok || v != 1 {
		t.Fatalf("expected (1, true), got (%d, %v)", v, ok)
	}

	c.Set("a", 2)
	v, _ = c.Get("a")
	if v != 2 {
		t.Fatalf("expected overwrite to 2, got %d", v)
	}
	if c.Len() != 1 {
		t.Fatalf("expected len 1 after overwrite, got %d", c.Len())
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New[string](10, time.Minute)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Set("k", "v")

	now = now.Add(59 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry should still be fresh at 59s")
	}

	now = now.Add(2 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry should have expired at 61s")
	}
	if c.Len() != 0 {
		t.Fatalf("expired read should remove entry, len=%d", c.Len())
	}
}

func TestCache_EvictsOldestInsertion(t *testing.T) {
	c := New[int](3, time.Hour)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	// Read "a" repeatedly; eviction policy is insertion order, not access.
	for i := 0; i < 5; i++ {
		c.Get("a")
	}

	c.Set("d", 4)

	if _, ok := c.Get("a"); ok {
		t.Fatal("oldest insertion (a) should have been evicted despite reads")
	}
	for _, k := range []string{"b", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Fatalf("expected %q to survive eviction", k)
		}
	}
}

func TestCache_OverwriteRefreshesInsertionOrder(t *testing.T) {
	c := New[int](2, time.Hour)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 3) // re-insert moves a to newest
	c.Set("c", 4) // evicts b, the oldest insertion

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b to be evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 3 {
		t.Fatalf("expected a=3 to survive, got (%d, %v)", v, ok)
	}
}

func TestCache_Prune(t *testing.T) {
	c := New[int](0, time.Minute)
	now := time.Unix(2000, 0)
	c.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("old%d", i), i)
	}
	now = now.Add(2 * time.Minute)
	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("new%d", i), i)
	}

	dropped := c.Prune()
	if dropped != 5 {
		t.Fatalf("expected 5 pruned, got %d", dropped)
	}
	if c.Len() != 3 {
		t.Fatalf("expected 3 survivors, got %d", c.Len())
	}
}
