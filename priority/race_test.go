package priority

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

// A mixed workload of adds, promotions, reservations (with random
// aborts) and invalidations from many goroutines. Should pass under
// `-race`, and the accounting must be exact afterwards.
func TestRace_MixedWorkload(t *testing.T) {
	g := &Guard{}
	q := NewLRU(Options{MaxSize: 1 << 20})

	const keys = 8
	kms := make([]*fakeKey, keys)
	for i := range kms {
		kms[i] = newFakeKey(fmt.Sprintf("key-%d", i))
	}

	deadline := time.Now().Add(2 * time.Second)
	var eg errgroup.Group
	for w := 0; w < 8; w++ {
		id := w
		eg.Go(func() error {
			r := rand.New(rand.NewSource(int64(id)*9973 + 1))
			for time.Now().Before(deadline) {
				km := kms[r.Intn(keys)]
				offset := uint64(r.Intn(64)) * 4096
				size := uint64(r.Intn(1024) + 1)

				switch r.Intn(10) {
				case 0, 1, 2, 3: // add
					lock := g.Lock()
					it, err := q.Add(km, offset, size, lock)
					if err != nil {
						lock.Unlock()
						if errors.Is(err, ErrLogic) {
							continue // duplicate or over-commit: expected under contention
						}
						return err
					}
					seg := &fakeSegment{offset: offset, size: size, it: it}
					seg.releasable.Store(true)
					lock.Unlock()
					lk := km.Lock()
					if _, ok := lk.SegmentByOffset(offset); ok {
						// Raced with another add of the same range; drop ours.
						lock := g.Lock()
						_ = it.Remove(lock)
						lock.Unlock()
					} else {
						km.segments[offset] = seg
					}
					lk.Unlock()

				case 4, 5: // promote a random resident segment
					lk, ok := km.TryLock()
					if !ok {
						continue
					}
					flk := lk.(*fakeLockedKey)
					for _, seg := range flk.k.segments {
						lock := g.Lock()
						_, _ = seg.it.IncreasePriority(lock)
						lock.Unlock()
						break
					}
					lk.Unlock()

				case 6, 7: // reserve, then randomly commit or abort
					lock := g.Lock()
					stat := &ReserveStat{}
					cand := NewEvictionCandidates()
					fits, err := q.CollectCandidatesForEviction(size, stat, cand, nil, nil, lock)
					lock.Unlock()
					if err != nil {
						cand.Close()
						return err
					}
					if !fits || r.Intn(2) == 0 {
						cand.Close()
						continue
					}
					if err := cand.Evict(); err != nil {
						cand.Close()
						return err
					}
					lock = g.Lock()
					err = cand.Finalize(nil, lock)
					lock.Unlock()
					cand.Close()
					if err != nil {
						return err
					}

				default: // invalidate a random resident segment
					lk, ok := km.TryLock()
					if !ok {
						continue
					}
					flk := lk.(*fakeLockedKey)
					for off, seg := range flk.k.segments {
						delete(flk.k.segments, off)
						lock := g.Lock()
						_ = seg.it.Invalidate(lock)
						lock.Unlock()
						break
					}
					lk.Unlock()
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}

	// The books must balance: recount live entries against the state.
	lock := g.Lock()
	defer lock.Unlock()
	var size, elements uint64
	for e := q.head; e != nil; e = e.next {
		if e.size != 0 {
			size += e.size
			elements++
		}
		if e.size != 0 && e.evicting {
			t.Errorf("no entry may stay evicting after all batches settled (key: %s, offset: %d)", e.key, e.offset)
		}
	}
	if got := q.Size(lock); got != size {
		t.Fatalf("state size %d != recounted %d", got, size)
	}
	if got := q.ElementsCount(lock); got != elements {
		t.Fatalf("state elements %d != recounted %d", got, elements)
	}
}
