package priority

import "log/slog"

// LRUIterator is a stable handle into an LRUQueue: a back-pointer to the
// owning queue plus a position reference. Copies alias the same position,
// and a handle follows its entry when Move rebinds it to another queue.
// Remove invalidates the handle; any later use is ErrLogic.
type LRUIterator struct {
	q *LRUQueue
	e *entry
}

var _ Iterator = (*LRUIterator)(nil)

// Entry returns the referenced entry view.
func (it *LRUIterator) Entry() Entry { return Entry{e: it.e} }

// Equal reports whether two handles alias the same position.
func (it *LRUIterator) Equal(other *LRUIterator) bool {
	return it.e == other.e && it.queue() == other.queue()
}

func (it *LRUIterator) assertValid() error {
	if !it.valid() {
		return logicErrorf("attempt to use invalid iterator")
	}
	return nil
}

// valid reports whether the handle still references a linked entry. A
// handle dies with Remove, including removals performed by the sweep.
func (it *LRUIterator) valid() bool {
	return it.e != nil && it.e.owner != nil
}

// queue resolves the owning queue, refreshing the back-pointer after the
// entry was moved between queues.
func (it *LRUIterator) queue() *LRUQueue {
	if it.e != nil && it.e.owner != nil {
		it.q = it.e.owner
	}
	return it.q
}

// IncreasePriority splices the entry to the MRU end and returns its
// incremented hit count.
func (it *LRUIterator) IncreasePriority(lock *Lock) (uint64, error) {
	if err := it.assertValid(); err != nil {
		return 0, err
	}
	it.queue().spliceToBack(it.e)
	it.e.hits++
	return it.e.hits, nil
}

// Remove unlinks the entry and invalidates the handle.
func (it *LRUIterator) Remove(lock *Lock) error {
	if err := it.assertValid(); err != nil {
		return err
	}
	it.queue().remove(it.e, lock)
	it.e = nil
	return nil
}

// Invalidate zeroes the entry's size and decrements both counters
// immediately; the node stays linked until the next sweep reaps it.
// Invalidating an already invalidated entry is a no-op.
func (it *LRUIterator) Invalidate(lock *Lock) error {
	if err := it.assertValid(); err != nil {
		return err
	}
	e := it.e
	if e.size == 0 {
		return nil
	}
	q := it.queue()

	q.log.Debug("invalidating entry in LRU queue",
		slog.String("key", e.key.String()), slog.Uint64("offset", e.offset), slog.Uint64("size", e.size))

	q.updateSize(-int64(e.size))
	q.updateElementsCount(-1)
	e.size = 0
	return nil
}

// IncrementSize grows the entry and the queue byte total by delta.
func (it *LRUIterator) IncrementSize(delta uint64, lock *Lock) error {
	if err := it.assertValid(); err != nil {
		return err
	}
	e := it.e
	if delta == 0 {
		return logicErrorf("increment size with zero delta (key: %s, offset: %d)", e.key, e.offset)
	}
	if e.size == 0 {
		return logicErrorf("increment size of invalidated entry (key: %s, offset: %d)", e.key, e.offset)
	}
	it.queue().updateSize(int64(delta))
	e.size += delta
	return nil
}

// DecrementSize shrinks the entry and the queue byte total by delta.
func (it *LRUIterator) DecrementSize(delta uint64, lock *Lock) error {
	if err := it.assertValid(); err != nil {
		return err
	}
	e := it.e
	if delta == 0 {
		return logicErrorf("decrement size with zero delta (key: %s, offset: %d)", e.key, e.offset)
	}
	if e.size < delta {
		return logicErrorf("decrement size below zero: %d < %d (key: %s, offset: %d)", e.size, delta, e.key, e.offset)
	}
	it.queue().updateSize(-int64(delta))
	e.size -= delta
	return nil
}

// setEvicting flips the evicting flag. Callers hold the priority lock.
func (it *LRUIterator) setEvicting(v bool) {
	if it.e != nil {
		it.e.evicting = v
	}
}
