package priority

import (
	"errors"
	"time"
)

// EvictionCandidates accumulates segments slated for removal, grouped by
// owning key, and coordinates the two-phase commit:
//
//	collect (priority lock held) -> Evict (lock released) -> Finalize (lock held)
//
// Every enrolled entry carries the evicting flag so that concurrent
// reservations cannot double-count it. Candidates are consumed exactly
// once: either by Evict+Finalize, or by Close, which rolls the evicting
// flags back so an abandoned reservation leaves the queue evictable.
type EvictionCandidates struct {
	byKey map[Key]*keyCandidates
	size  uint64

	queueEntriesToInvalidate []Iterator
	finalizeEvictionFunc     func(lock *Lock)

	// Captured from the first Add; Close re-acquires the guard through it.
	guard   *Guard
	metrics Metrics

	evictedBytes    uint64
	evictedSegments uint64

	finalized bool
}

type keyCandidates struct {
	keyMetadata KeyMetadata
	segments    []SegmentMetadata
}

// NewEvictionCandidates returns an empty candidate set.
func NewEvictionCandidates() *EvictionCandidates {
	return &EvictionCandidates{byKey: make(map[Key]*keyCandidates)}
}

// Size returns the number of enrolled segments across all keys.
func (c *EvictionCandidates) Size() uint64 { return c.size }

// SetFinalizeEvictionFunc installs a closure invoked with the priority
// lock held at the end of Finalize, used to atomically integrate the
// eviction into an external priority layer.
func (c *EvictionCandidates) SetFinalizeEvictionFunc(fn func(lock *Lock)) {
	c.finalizeEvictionFunc = fn
}

// Add enrolls a segment under its key bucket, captures its queue handle
// for invalidation at Finalize, and marks the underlying entry evicting.
func (c *EvictionCandidates) Add(seg SegmentMetadata, lk LockedKey, lock *Lock) {
	bucket, ok := c.byKey[lk.Key()]
	if !ok {
		bucket = &keyCandidates{keyMetadata: lk.KeyMetadata()}
		c.byKey[lk.Key()] = bucket
	}
	bucket.segments = append(bucket.segments, seg)
	c.size++

	it := seg.QueueIterator()
	it.setEvicting(true)
	c.queueEntriesToInvalidate = append(c.queueEntriesToInvalidate, it)

	c.guard = lock.guard
}

// Merge unions other into c under the same priority lock; other is left
// empty and consumed. Used to combine per-priority-layer candidate sets.
func (c *EvictionCandidates) Merge(other *EvictionCandidates, lock *Lock) {
	for key, bucket := range other.byKey {
		dst, ok := c.byKey[key]
		if !ok {
			c.byKey[key] = bucket
		} else {
			dst.segments = append(dst.segments, bucket.segments...)
		}
	}
	c.size += other.size
	c.queueEntriesToInvalidate = append(c.queueEntriesToInvalidate, other.queueEntriesToInvalidate...)
	if c.guard == nil {
		c.guard = other.guard
	}
	if c.metrics == nil {
		c.metrics = other.metrics
	}

	other.byKey = make(map[Key]*keyCandidates)
	other.size = 0
	other.queueEntriesToInvalidate = nil
	other.finalized = true
}

// Evict removes every candidate's on-disk file segment through the key's
// metadata map, acting as the authoritative deleter. It must be called
// without the priority lock held: deletion is synchronous disk work. The
// priority queue still contains the logically dead entries with their
// evicting flag set until Finalize.
func (c *EvictionCandidates) Evict() error {
	started := time.Now()
	defer func() {
		c.reportMetrics().EvictDuration(time.Since(started))
	}()

	var errs []error
	for _, bucket := range c.byKey {
		lk := bucket.keyMetadata.Lock()
		for _, seg := range bucket.segments {
			size := seg.Size()
			if err := lk.RemoveSegment(seg); err != nil {
				errs = append(errs, err)
				continue
			}
			c.evictedBytes += size
			c.evictedSegments++
		}
		lk.Unlock()
	}
	return errors.Join(errs...)
}

// Finalize, under the priority lock, invalidates every captured queue
// handle, notifies the query-scoped layer about each evicted segment,
// and runs the finalize-eviction closure. After Finalize, Close is a
// no-op.
func (c *EvictionCandidates) Finalize(queryContext QueryContext, lock *Lock) error {
	if !lock.held() {
		return logicErrorf("finalize called without the priority lock")
	}
	for _, it := range c.queueEntriesToInvalidate {
		// An entry invalidated out-of-band may already have been reaped
		// by a sweep; evicting it again is a no-op.
		if !it.valid() {
			continue
		}
		if err := it.Invalidate(lock); err != nil {
			return err
		}
		it.setEvicting(false)
	}
	c.queueEntriesToInvalidate = nil

	if queryContext != nil {
		for key, bucket := range c.byKey {
			for _, seg := range bucket.segments {
				queryContext.Remove(key, seg.Offset(), lock)
			}
		}
	}

	if c.finalizeEvictionFunc != nil {
		c.finalizeEvictionFunc(lock)
		c.finalizeEvictionFunc = nil
	}

	c.reportMetrics().Evicted(c.evictedBytes, c.evictedSegments)
	c.finalized = true
	return nil
}

// Close rolls back an unfinalized candidate set: it re-acquires the
// priority lock unconditionally and clears every enrolled entry's
// evicting flag, returning the entries to the Live state. Safe to defer
// alongside the happy path; after Finalize it does nothing. Close never
// fails.
func (c *EvictionCandidates) Close() {
	if c.finalized || len(c.queueEntriesToInvalidate) == 0 {
		c.finalized = true
		return
	}
	lock := c.guard.Lock()
	for _, it := range c.queueEntriesToInvalidate {
		it.setEvicting(false)
	}
	c.queueEntriesToInvalidate = nil
	lock.Unlock()
	c.finalized = true
}

// bind attaches the owning queue's metrics sink. Idempotent; called by
// the queue that fills the set.
func (c *EvictionCandidates) bind(m Metrics) {
	if c.metrics == nil {
		c.metrics = m
	}
}

func (c *EvictionCandidates) reportMetrics() Metrics {
	if c.metrics == nil {
		return NoopMetrics{}
	}
	return c.metrics
}
