package hotcache

import (
	"bytes"
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	c := New(4)
	c.Put([]byte("k1"), []byte("v1"), 0.5, 100)
	v, ok := c.Get([]byte("k1"), 101)
	if !ok {
		t.Fatalf("Get(k1) not found")
	}
	if !bytes.Equal(v, []byte("v1")) {
		t.Fatalf("Get(k1) = %q, want %q", v, "v1")
	}
}

func TestEvictsLowestHeatWhenFull(t *testing.T) {
	c := New(2)
	c.Put([]byte("low"), []byte("v"), 0.1, 100)
	c.Put([]byte("high"), []byte("v"), 0.9, 100)
	c.Put([]byte("new"), []byte("v"), 0.5, 100) // should evict "low"

	if _, ok := c.Get([]byte("low"), 101); ok {
		t.Fatalf("low-heat entry should have been evicted")
	}
	if _, ok := c.Get([]byte("high"), 101); !ok {
		t.Fatalf("high-heat entry should survive eviction")
	}
	if _, ok := c.Get([]byte("new"), 101); !ok {
		t.Fatalf("newly inserted entry should be present")
	}
}

func TestEvictionTieBreaksByOldestLastAccess(t *testing.T) {
	c := New(2)
	c.Put([]byte("older"), []byte("v"), 0.5, 100)
	c.Put([]byte("newer"), []byte("v"), 0.5, 200)
	c.Put([]byte("newest"), []byte("v"), 0.5, 300) // tie on heat, evict oldest lastAccess

	if _, ok := c.Get([]byte("older"), 400); ok {
		t.Fatalf("oldest-lastAccess entry should have been evicted on a heat tie")
	}
	if _, ok := c.Get([]byte("newer"), 400); !ok {
		t.Fatalf("newer entry should survive")
	}
}

func TestInvalidateRemovesEntry(t *testing.T) {
	c := New(4)
	c.Put([]byte("k"), []byte("v"), 0.5, 1)
	c.Invalidate([]byte("k"))
	if _, ok := c.Get([]byte("k"), 2); ok {
		t.Fatalf("Get after Invalidate should miss")
	}
}

func TestPutOverwritesExistingWithoutEviction(t *testing.T) {
	c := New(1)
	c.Put([]byte("k"), []byte("v1"), 0.5, 1)
	c.Put([]byte("k"), []byte("v2"), 0.9, 2)

	v, ok := c.Get([]byte("k"), 3)
	if !ok || !bytes.Equal(v, []byte("v2")) {
		t.Fatalf("Get(k) = %q, %v, want %q, true", v, ok, "v2")
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}
