//go:build go1.18

package cache

import (
	"errors"
	"testing"

	"github.com/IvanBrykalov/fscache/priority"
)

// Fuzz Put/Get/Invalidate sequencing under arbitrary inputs. Guards
// against panics and ensures the byte limit is never exceeded.
func FuzzCache_PutGetInvalidate(f *testing.F) {
	f.Add("a", uint64(0), uint64(10), false)
	f.Add("b", uint64(4096), uint64(100), true)
	f.Add("αβγ", uint64(1<<20), uint64(1), false)
	f.Add("", uint64(0), uint64(0), true)

	f.Fuzz(func(t *testing.T, path string, offset, size uint64, drop bool) {
		const limit = 1 << 16
		// Cap sizes to keep disk usage bounded during fuzzing.
		size %= limit
		offset %= 1 << 30

		c, err := New(Options{Dir: t.TempDir(), MaxSize: limit})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		key := priority.NewKey(path)

		err = c.Put(key, offset, size)
		switch {
		case size == 0:
			if !errors.Is(err, priority.ErrLogic) {
				t.Fatalf("zero size Put: want ErrLogic, got %v", err)
			}
			return
		case err != nil:
			t.Fatalf("Put: %v", err)
		}

		if _, ok := c.Get(key, offset); !ok {
			t.Fatal("fresh segment must be resident")
		}

		// A second Put of the same range promotes and must not
		// double-count.
		if err := c.Put(key, offset, size); err != nil {
			t.Fatalf("re-Put: %v", err)
		}
		bytes, elements := c.Usage()
		if bytes != size || elements != 1 {
			t.Fatalf("usage want %d/1, got %d/%d", size, bytes, elements)
		}

		if drop {
			removed, err := c.Invalidate(key, offset)
			if err != nil || !removed {
				t.Fatalf("Invalidate: removed=%v err=%v", removed, err)
			}
			if _, ok := c.Get(key, offset); ok {
				t.Fatal("invalidated segment must miss")
			}
			if bytes, elements := c.Usage(); bytes != 0 || elements != 0 {
				t.Fatalf("usage after invalidate want 0/0, got %d/%d", bytes, elements)
			}
		}
	})
}
