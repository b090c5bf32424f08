package cache

import (
	"errors"
	"os"
	"testing"

	"github.com/IvanBrykalov/fscache/priority"
)

func newTestCache(t *testing.T, opt Options) *Cache {
	t.Helper()
	opt.Dir = t.TempDir()
	c, err := New(opt)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// Basic LRU eviction end to end: overflowing the byte limit evicts the
// least recently used segment and its data file.
func TestCache_BasicLRUEviction(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{MaxSize: 100})
	a := priority.NewKey("a")
	b := priority.NewKey("b")
	d := priority.NewKey("d")

	if err := c.Put(a, 0, 40); err != nil {
		t.Fatalf("Put a: %v", err)
	}
	if err := c.Put(b, 0, 40); err != nil {
		t.Fatalf("Put b: %v", err)
	}

	segA, ok := c.Get(a, 0)
	if !ok {
		t.Fatal("a must be resident")
	}
	pathA := segA.Path()
	// Getting a promoted it over b; b is now the eviction victim.

	if err := c.Put(d, 0, 30); err != nil {
		t.Fatalf("Put d: %v", err)
	}

	if _, ok := c.Get(b, 0); ok {
		t.Fatal("b must be evicted")
	}
	if _, ok := c.Get(a, 0); !ok {
		t.Fatal("a must survive (promoted)")
	}
	if _, err := os.Stat(pathA); err != nil {
		t.Fatalf("surviving segment file must exist: %v", err)
	}

	bytes, elements := c.Usage()
	if bytes != 70 || elements != 2 {
		t.Fatalf("usage want 70/2, got %d/%d", bytes, elements)
	}
}

// Dump reflects recency order and hit counts.
func TestCache_DumpOrderAndHits(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{})
	a := priority.NewKey("a")

	for off := uint64(1); off <= 3; off++ {
		if err := c.Put(a, off, 10); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if _, ok := c.Get(a, 1); !ok {
		t.Fatal("offset 1 must be resident")
	}

	dump, err := c.Dump()
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if len(dump) != 3 {
		t.Fatalf("dump length want 3, got %d", len(dump))
	}
	if dump[0].Offset != 2 || dump[1].Offset != 3 || dump[2].Offset != 1 {
		t.Fatalf("dump order want [2 3 1], got %v", dump)
	}
	if dump[2].Hits != 1 {
		t.Fatalf("hits of promoted entry want 1, got %d", dump[2].Hits)
	}
}

// Pinned segments cannot be evicted: the reservation backs off with
// ErrNoSpace instead.
func TestCache_PinnedHoldsTheLine(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{MaxSize: 100})
	a := priority.NewKey("a")
	b := priority.NewKey("b")

	if err := c.Put(a, 0, 50); err != nil {
		t.Fatalf("Put a: %v", err)
	}
	if err := c.Put(b, 0, 50); err != nil {
		t.Fatalf("Put b: %v", err)
	}

	segA, _ := c.Get(a, 0)
	segB, _ := c.Get(b, 0)
	segA.Acquire()
	segB.Acquire()
	defer segA.Release()
	defer segB.Release()

	err := c.Put(priority.NewKey("d"), 0, 30)
	if !errors.Is(err, ErrNoSpace) {
		t.Fatalf("want ErrNoSpace, got %v", err)
	}

	// Both segments must stay resident and evictable later.
	segB.Release()
	if err := c.Put(priority.NewKey("d"), 0, 30); err != nil {
		t.Fatalf("Put after unpin: %v", err)
	}
	segB.Acquire() // rebalance the deferred Release
}

// Invalidate removes the data file immediately and the queue entry on
// the next sweep.
func TestCache_Invalidate(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{})
	a := priority.NewKey("a")

	if err := c.Put(a, 0, 30); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Put(a, 100, 30); err != nil {
		t.Fatalf("Put: %v", err)
	}
	seg, _ := c.Get(a, 0)
	path := seg.Path()

	removed, err := c.Invalidate(a, 0)
	if err != nil || !removed {
		t.Fatalf("Invalidate: removed=%v err=%v", removed, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("segment file must be gone, stat err: %v", err)
	}

	bytes, elements := c.Usage()
	if bytes != 30 || elements != 1 {
		t.Fatalf("usage want 30/1, got %d/%d", bytes, elements)
	}
	if _, ok := c.Get(a, 0); ok {
		t.Fatal("invalidated segment must miss")
	}

	dump, err := c.Dump()
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if len(dump) != 1 || dump[0].Offset != 100 {
		t.Fatalf("dump want only offset 100, got %v", dump)
	}

	// Invalidating again reports absence.
	removed, err = c.Invalidate(a, 0)
	if err != nil || removed {
		t.Fatalf("second Invalidate: removed=%v err=%v", removed, err)
	}
}

// TrimTo shrinks toward the target and SetLimits then accepts the
// smaller bound.
func TestCache_TrimThenShrinkLimits(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{MaxSize: 1000})
	a := priority.NewKey("a")
	for off := uint64(0); off < 10; off++ {
		if err := c.Put(a, off*100, 100); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	// Shrinking limits under live usage is a logic error.
	if err := c.SetLimits(500, 0); !errors.Is(err, priority.ErrLogic) {
		t.Fatalf("shrink below usage: want ErrLogic, got %v", err)
	}

	evicted, err := c.TrimTo(500, 5, 100)
	if err != nil {
		t.Fatalf("TrimTo: %v", err)
	}
	if evicted != 5 {
		t.Fatalf("evicted want 5, got %d", evicted)
	}
	bytes, elements := c.Usage()
	if bytes != 500 || elements != 5 {
		t.Fatalf("usage want 500/5, got %d/%d", bytes, elements)
	}

	if err := c.SetLimits(500, 0); err != nil {
		t.Fatalf("SetLimits after trim: %v", err)
	}
}

// Re-putting a cached range promotes instead of failing.
func TestCache_PutExistingPromotes(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{})
	a := priority.NewKey("a")

	if err := c.Put(a, 0, 10); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Put(a, 100, 10); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Put(a, 0, 10); err != nil {
		t.Fatalf("re-Put: %v", err)
	}

	dump, err := c.Dump()
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if len(dump) != 2 || dump[1].Offset != 0 {
		t.Fatalf("re-put range must be MRU, dump got %v", dump)
	}
	bytes, _ := c.Usage()
	if bytes != 20 {
		t.Fatalf("usage want 20, got %d", bytes)
	}
}

// An SLRU cache keeps a re-accessed entry out of the reservation's way.
func TestCache_SLRUProtectsHotEntries(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{MaxSize: 100, SLRUSizeRatio: 0.5})
	hot := priority.NewKey("hot")
	cold := priority.NewKey("cold")

	if err := c.Put(hot, 0, 30); err != nil {
		t.Fatalf("Put hot: %v", err)
	}
	if _, ok := c.Get(hot, 0); !ok { // promote into the protected segment
		t.Fatal("hot must be resident")
	}
	if err := c.Put(cold, 0, 40); err != nil {
		t.Fatalf("Put cold: %v", err)
	}

	// The probationary segment holds 40/50; 20 more evict cold, not hot.
	if err := c.Put(priority.NewKey("new"), 0, 20); err != nil {
		t.Fatalf("Put new: %v", err)
	}
	if _, ok := c.Get(hot, 0); !ok {
		t.Fatal("hot entry must survive in the protected segment")
	}
	if _, ok := c.Get(cold, 0); ok {
		t.Fatal("cold probationary entry must be evicted")
	}
}
