package cache

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/IvanBrykalov/fscache/metadata"
	"github.com/IvanBrykalov/fscache/priority"
)

// ErrNoSpace is returned by Put when the reservation cannot be satisfied
// because the cache is full of segments that are currently in use.
// Callers should back off and retry; the wrapped message carries the
// releasable/non-releasable split observed during collection.
var ErrNoSpace = errors.New("cache: no space available")

// Cache is a bounded local cache of remote-object file segments.
// All methods are safe for concurrent use.
type Cache struct {
	guard *priority.Guard
	queue priority.Queue
	meta  *metadata.CacheMetadata
	log   *slog.Logger
}

// New constructs a cache over opt.Dir.
func New(opt Options) (*Cache, error) {
	lg := opt.Logger
	if lg == nil {
		lg = slog.New(slog.DiscardHandler)
	}

	popt := priority.Options{
		MaxSize:     opt.MaxSize,
		MaxElements: opt.MaxElements,
		Metrics:     opt.Metrics,
		Logger:      lg,
	}
	var (
		q   priority.Queue
		err error
	)
	if opt.SLRUSizeRatio != 0 {
		q, err = priority.NewSLRU(popt, opt.SLRUSizeRatio)
		if err != nil {
			return nil, err
		}
	} else {
		q = priority.NewLRU(popt)
	}

	return &Cache{
		guard: &priority.Guard{},
		queue: q,
		meta:  metadata.New(opt.Dir, lg),
		log:   lg,
	}, nil
}

// Guard exposes the cache's priority guard for callers that batch
// several queue operations into one critical section.
func (c *Cache) Guard() *priority.Guard { return c.guard }

// Queue exposes the priority queue. Mutating it requires the guard.
func (c *Cache) Queue() priority.Queue { return c.queue }

// Metadata exposes the key -> segment metadata map.
func (c *Cache) Metadata() *metadata.CacheMetadata { return c.meta }

// Put materializes a segment of size bytes at (key, offset), evicting
// cold segments first when the limits require it. Putting an offset that
// is already cached promotes it instead.
func (c *Cache) Put(key priority.Key, offset, size uint64) error {
	km := c.meta.GetOrCreateKey(key)

	// Fast path: already cached.
	lk := km.Lock().(*metadata.LockedKey)
	if seg, ok := lk.SegmentByOffset(offset); ok {
		it := seg.QueueIterator()
		lock := c.guard.Lock()
		_, err := it.IncreasePriority(lock)
		lock.Unlock()
		if err == nil {
			lk.Unlock()
			return nil
		}
		// The sweep reaped the queue entry while the key was locked
		// elsewhere; drop the orphaned segment and re-admit the range.
		if rmErr := lk.RemoveSegment(seg); rmErr != nil {
			lk.Unlock()
			return rmErr
		}
	}
	lk.Unlock()

	if err := c.reserve(size); err != nil {
		return err
	}
	// The hold taken by reserve accounts the segment while its data
	// file is created; it is swapped for the real entry below.

	lk = km.Lock().(*metadata.LockedKey)
	seg, err := lk.AddSegment(offset, size)
	if err != nil {
		lk.Unlock()
		lock := c.guard.Lock()
		c.queue.Release(size, 1, lock)
		lock.Unlock()

		var dup *metadata.DuplicateSegmentError
		if errors.As(err, &dup) {
			// Raced with another Put of the same range; count it as a
			// hit. The range may even be gone again by now.
			_, _ = c.Get(key, offset)
			return nil
		}
		return err
	}

	lock := c.guard.Lock()
	c.queue.Release(size, 1, lock)
	it, err := c.queue.Add(km, offset, size, lock)
	if err != nil {
		lock.Unlock()
		rmErr := lk.RemoveSegment(seg)
		lk.Unlock()
		return errors.Join(err, rmErr)
	}
	seg.SetQueueIterator(it)
	lock.Unlock()
	lk.Unlock()
	return nil
}

// reserve makes room for size bytes and one element, leaving a hold of
// exactly that much on success.
func (c *Cache) reserve(size uint64) error {
	lock := c.guard.Lock()

	stat := &priority.ReserveStat{}
	cand := priority.NewEvictionCandidates()
	var reachedSize, reachedElements bool
	fits, err := c.queue.CollectCandidatesForEviction(size, stat, cand, &reachedSize, &reachedElements, lock)
	if err != nil {
		lock.Unlock()
		cand.Close()
		return err
	}
	if !fits {
		lock.Unlock()
		cand.Close()
		return fmt.Errorf("%w: need %d bytes, releasable %d bytes in %d segments, in use %d bytes in %d segments",
			ErrNoSpace, size, stat.ReleasableSize, stat.ReleasableCount, stat.NonReleasableSize, stat.NonReleasableCount)
	}

	if cand.Size() > 0 {
		lock.Unlock()
		if err := cand.Evict(); err != nil {
			// Entries whose segments did get removed are now stale; the
			// next sweep reaps them. Roll back the rest.
			cand.Close()
			return err
		}
		lock = c.guard.Lock()
		if err := cand.Finalize(nil, lock); err != nil {
			lock.Unlock()
			cand.Close()
			return err
		}
	}

	err = c.queue.Hold(size, 1, lock)
	lock.Unlock()
	cand.Close()
	return err
}

// Get returns the segment at (key, offset) and promotes it. The segment
// stays unpinned; call Acquire on it to keep it resident while reading.
func (c *Cache) Get(key priority.Key, offset uint64) (*metadata.FileSegment, bool) {
	km, ok := c.meta.Key(key)
	if !ok {
		return nil, false
	}
	lk := km.Lock()
	segMD, ok := lk.SegmentByOffset(offset)
	if !ok {
		lk.Unlock()
		return nil, false
	}
	seg := segMD.(*metadata.FileSegment)

	lock := c.guard.Lock()
	_, err := seg.QueueIterator().IncreasePriority(lock)
	lock.Unlock()
	if err != nil {
		// The queue entry is gone; clean up the orphaned segment.
		_ = lk.RemoveSegment(seg)
		lk.Unlock()
		return nil, false
	}
	lk.Unlock()
	return seg, true
}

// Invalidate tears down the segment at (key, offset): its data file and
// metadata are removed and its queue entry is zeroed for the next sweep
// to reap. Reports whether a segment was present.
func (c *Cache) Invalidate(key priority.Key, offset uint64) (bool, error) {
	km, ok := c.meta.Key(key)
	if !ok {
		return false, nil
	}
	lk := km.Lock()
	seg, ok := lk.SegmentByOffset(offset)
	if !ok {
		lk.Unlock()
		return false, nil
	}
	it := seg.QueueIterator()
	if err := lk.RemoveSegment(seg); err != nil {
		lk.Unlock()
		return true, err
	}
	lock := c.guard.Lock()
	err := it.Invalidate(lock)
	lock.Unlock()
	lk.Unlock()
	if errors.Is(err, priority.ErrLogic) {
		// The queue entry was already reaped by a sweep.
		err = nil
	}
	return true, err
}

// TrimTo shrinks the cache toward the desired totals, evicting at most
// maxCandidates segments, and returns how many were evicted. Intended
// for background trimming and as the preparation step before shrinking
// limits with SetLimits.
func (c *Cache) TrimTo(desiredSize, desiredElements, maxCandidates uint64) (uint64, error) {
	lock := c.guard.Lock()
	stat := &priority.ReserveStat{}
	cand, err := c.queue.CollectCandidatesToShrink(desiredSize, desiredElements, maxCandidates, stat, lock)
	n := cand.Size()
	lock.Unlock()
	if err != nil || n == 0 {
		cand.Close()
		return 0, err
	}

	if err := cand.Evict(); err != nil {
		cand.Close()
		return 0, err
	}
	lock = c.guard.Lock()
	err = cand.Finalize(nil, lock)
	lock.Unlock()
	cand.Close()
	return n, err
}

// SetLimits replaces the cache limits. Shrinking below current usage is
// ErrLogic; run TrimTo first.
func (c *Cache) SetLimits(maxSize, maxElements uint64) error {
	lock := c.guard.Lock()
	err := c.queue.ModifySizeLimits(maxSize, maxElements, lock)
	lock.Unlock()
	return err
}

// Dump returns a snapshot of the priority queue, LRU-first.
func (c *Cache) Dump() ([]priority.EntryInfo, error) {
	lock := c.guard.Lock()
	res, err := c.queue.Dump(lock)
	lock.Unlock()
	return res, err
}

// Usage returns the current totals. Advisory: read under the guard but
// immediately stale.
func (c *Cache) Usage() (bytes, elements uint64) {
	lock := c.guard.Lock()
	bytes = c.queue.Size(lock)
	elements = c.queue.ElementsCount(lock)
	lock.Unlock()
	return bytes, elements
}
