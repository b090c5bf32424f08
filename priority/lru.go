package priority

import (
	"log/slog"
	"math/rand"
)

// LRUQueue is the strict-LRU priority queue: an intrusive doubly linked
// list with head = least-recently-used and tail = most-recently-used.
type LRUQueue struct {
	// ---- guarded by the priority lock ----
	maxSize     uint64
	maxElements uint64
	head        *entry
	tail        *entry

	// Private view of this queue's usage. Differs from state only when
	// the State is shared with another queue.
	queueSize     uint64
	queueElements uint64

	state       *State
	metrics     Metrics
	log         *slog.Logger
	shuffleSeed int64
}

// NewLRU constructs an LRU queue from Options.
func NewLRU(opt Options) *LRUQueue {
	st := opt.State
	if st == nil {
		st = NewState()
	}
	m := opt.Metrics
	if m == nil {
		m = NoopMetrics{}
	}
	lg := opt.Logger
	if lg == nil {
		lg = slog.New(slog.DiscardHandler)
	}
	seed := opt.ShuffleSeed
	if seed == 0 {
		seed = 1
	}
	return &LRUQueue{
		maxSize:     opt.MaxSize,
		maxElements: opt.MaxElements,
		state:       st,
		metrics:     m,
		log:         lg,
		shuffleSeed: seed,
	}
}

var _ Queue = (*LRUQueue)(nil)

// Add appends a live entry at the MRU end and returns its handle.
func (q *LRUQueue) Add(km KeyMetadata, offset, size uint64, lock *Lock) (Iterator, error) {
	it, err := q.add(newEntry(km, offset, size), lock)
	if err != nil {
		return nil, err
	}
	return it, nil
}

func (q *LRUQueue) add(e *entry, lock *Lock) (*LRUIterator, error) {
	if !lock.held() {
		return nil, logicErrorf("add called without the priority lock")
	}
	if e.size == 0 {
		return nil, logicErrorf("adding zero size entries to LRU queue is not allowed (key: %s, offset: %d)", e.key, e.offset)
	}
	if dup := q.find(e.key, e.offset); dup != nil {
		return nil, logicErrorf("attempt to add duplicate queue entry (key: %s, offset: %d, size: %d)", e.key, e.offset, e.size)
	}
	if q.maxSize != 0 && q.state.CurrentSize()+e.size > q.maxSize {
		return nil, logicErrorf("not enough space to add %s:%d with size %d: current size: %d/%d",
			e.key, e.offset, e.size, q.state.CurrentSize(), q.maxSize)
	}

	q.pushBack(e)
	q.updateSize(int64(e.size))
	q.updateElementsCount(1)

	q.log.Debug("added entry into LRU queue",
		slog.String("key", e.key.String()), slog.Uint64("offset", e.offset), slog.Uint64("size", e.size))

	return &LRUIterator{q: q, e: e}, nil
}

// remove unlinks e and returns its successor so a sweep can continue.
// If size is 0 the entry was invalidated and the counters were already
// decremented; only the link is removed.
func (q *LRUQueue) remove(e *entry, lock *Lock) *entry {
	if e.size != 0 {
		q.updateSize(-int64(e.size))
		q.updateElementsCount(-1)
	}

	q.log.Debug("removed entry from LRU queue",
		slog.String("key", e.key.String()), slog.Uint64("offset", e.offset), slog.Uint64("size", e.size))

	next := e.next
	q.unlink(e)
	// A removed entry bounds the validity of outstanding handles: any
	// iterator still aliasing it fails loudly instead of relinking a
	// dead node.
	e.owner = nil
	return next
}

// find returns the live entry at (key, offset), or nil. Invalidated
// entries do not count: the pair may be re-added before they are reaped.
func (q *LRUQueue) find(key Key, offset uint64) *entry {
	for e := q.head; e != nil; e = e.next {
		if e.size != 0 && e.key == key && e.offset == offset {
			return e
		}
	}
	return nil
}

// ---- intrusive list plumbing ----

func (q *LRUQueue) pushBack(e *entry) {
	e.owner = q
	e.prev = q.tail
	e.next = nil
	if q.tail != nil {
		q.tail.next = e
	}
	q.tail = e
	if q.head == nil {
		q.head = e
	}
}

func (q *LRUQueue) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if q.head == e {
		q.head = e.next
	}
	if q.tail == e {
		q.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

func (q *LRUQueue) spliceToBack(e *entry) {
	if q.tail == e {
		return
	}
	q.unlink(e)
	q.pushBack(e)
}

// ---- accounting ----

func (q *LRUQueue) updateSize(delta int64) {
	q.state.addSize(delta)
	q.queueSize = uint64(int64(q.queueSize) + delta)
	q.metrics.Usage(q.state.CurrentSize(), q.state.CurrentElements())
}

func (q *LRUQueue) updateElementsCount(delta int64) {
	q.state.addElements(delta)
	q.queueElements = uint64(int64(q.queueElements) + delta)
	q.metrics.Usage(q.state.CurrentSize(), q.state.CurrentElements())
}

// Size returns the byte total of the underlying State.
func (q *LRUQueue) Size(*Lock) uint64 { return q.state.CurrentSize() }

// ElementsCount returns the element count of the underlying State.
func (q *LRUQueue) ElementsCount(*Lock) uint64 { return q.state.CurrentElements() }

// QueueSize returns this queue's private byte total, which differs from
// Size only when the State is shared with another queue.
func (q *LRUQueue) QueueSize(*Lock) uint64 { return q.queueSize }

// QueueElementsCount returns this queue's private element count.
func (q *LRUQueue) QueueElementsCount(*Lock) uint64 { return q.queueElements }

// ---- limit checks ----

// CanFit reports whether size bytes and elements entries fit now.
func (q *LRUQueue) CanFit(size, elements uint64, lock *Lock) bool {
	return q.canFit(size, elements, 0, 0, nil, nil)
}

// canFit is the full check: the request fits once releasedSize bytes and
// releasedElements entries are assumed released. The reached pointers,
// when non-nil, are OR-ed with the limit found binding.
func (q *LRUQueue) canFit(size, elements, releasedSize, releasedElements uint64, reachedSizeLimit, reachedElementsLimit *bool) bool {
	sizeOK := q.maxSize == 0 || q.state.CurrentSize()+size <= q.maxSize+releasedSize
	elementsOK := q.maxElements == 0 || q.state.CurrentElements()+elements <= q.maxElements+releasedElements

	if reachedSizeLimit != nil {
		*reachedSizeLimit = *reachedSizeLimit || !sizeOK
	}
	if reachedElementsLimit != nil {
		*reachedElementsLimit = *reachedElementsLimit || !elementsOK
	}
	return sizeOK && elementsOK
}

// ModifySizeLimits replaces the limits, rejecting a shrink below current
// usage. Interpreting 0 as unbounded, growing is always legal.
func (q *LRUQueue) ModifySizeLimits(maxSize, maxElements uint64, lock *Lock) error {
	if q.maxSize == maxSize && q.maxElements == maxElements {
		return nil
	}
	sizeOK := maxSize == 0 || q.state.CurrentSize() <= maxSize
	elementsOK := maxElements == 0 || q.state.CurrentElements() <= maxElements
	if !sizeOK || !elementsOK {
		return logicErrorf("cannot modify size limits to %d in size and to %d in elements: "+
			"not enough space released. Current size: %d/%d, current elements: %d/%d",
			maxSize, maxElements, q.state.CurrentSize(), q.maxSize, q.state.CurrentElements(), q.maxElements)
	}
	q.maxSize = maxSize
	q.maxElements = maxElements
	return nil
}

// ---- iteration ----

// Iterate walks the queue LRU-first. For each node it reaps invalidated
// entries, skips evicting ones, try-locks the key (failure means the
// entry is stale and removed), re-checks the size, resolves the segment
// (absence means stale), asserts segment size against queue accounting,
// and finally delivers the pair to fn with both locks held.
func (q *LRUQueue) Iterate(fn IterateFunc, lock *Lock) error {
	if !lock.held() {
		return logicErrorf("iterate called without the priority lock")
	}
	for it := q.head; it != nil; {
		e := it

		if e.size == 0 {
			it = q.remove(e, lock)
			continue
		}
		if e.evicting {
			q.metrics.SkippedEvictingFileSegment()
			it = e.next
			continue
		}

		lk, ok := e.keyMetadata.TryLock()
		if !ok || e.size == 0 {
			if ok {
				lk.Unlock()
			}
			it = q.remove(e, lock)
			continue
		}

		seg, ok := lk.SegmentByOffset(e.offset)
		if !ok {
			lk.Unlock()
			it = q.remove(e, lock)
			continue
		}

		if seg.Size() != e.size {
			lk.Unlock()
			return logicErrorf("mismatch of file segment size in file segment metadata and priority queue: %d != %d (key: %s, offset: %d)",
				e.size, seg.Size(), e.key, e.offset)
		}

		result := fn(lk, seg)
		lk.Unlock()

		switch result {
		case IterationBreak:
			return nil
		case IterationContinue:
			it = e.next
		case IterationRemoveAndContinue:
			it = q.remove(e, lock)
		}
	}
	return nil
}

// Dump snapshots the queue through the iterate protocol, LRU-first.
func (q *LRUQueue) Dump(lock *Lock) ([]EntryInfo, error) {
	var res []EntryInfo
	err := q.Iterate(func(lk LockedKey, seg SegmentMetadata) IterationResult {
		e := seg.QueueIterator().Entry()
		res = append(res, EntryInfo{
			Key:    e.Key(),
			Offset: e.Offset(),
			Size:   e.Size(lock),
			Hits:   e.Hits(lock),
		})
		return IterationContinue
	}, lock)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ---- move between queues ----

// Move splices the entry referenced by it out of other and onto this
// queue's MRU end, adjusting both queues' counters, and returns a handle
// bound to this queue. The moved entry's aliasing handles stay valid:
// they follow the entry into its new owner. Uniqueness and non-zero size
// are re-checked.
func (q *LRUQueue) Move(it *LRUIterator, other *LRUQueue, lock *Lock) (*LRUIterator, error) {
	if err := it.assertValid(); err != nil {
		return nil, err
	}
	e := it.e
	if e.owner != other {
		return nil, logicErrorf("iterator does not belong to the source queue (key: %s, offset: %d)", e.key, e.offset)
	}
	if e.size == 0 {
		return nil, logicErrorf("moving zero size entries between LRU queues is not allowed (key: %s, offset: %d)", e.key, e.offset)
	}
	if dup := q.find(e.key, e.offset); dup != nil {
		return nil, logicErrorf("attempt to add duplicate queue entry (key: %s, offset: %d, size: %d)", e.key, e.offset, e.size)
	}

	other.unlink(e)
	q.pushBack(e)

	q.updateSize(int64(e.size))
	q.updateElementsCount(1)
	other.updateSize(-int64(e.size))
	other.updateElementsCount(-1)

	return &LRUIterator{q: q, e: e}, nil
}

// ---- hold / release ----

// Hold reserves quota without a concrete entry, failing when it does not
// fit. Pairs with Release once the in-flight download lands or fails.
func (q *LRUQueue) Hold(size, elements uint64, lock *Lock) error {
	if !q.CanFit(size, elements, lock) {
		return logicErrorf("cannot take space %d in size, %d in elements. Current state %d/%d in size, %d/%d in elements",
			size, elements, q.state.CurrentSize(), q.maxSize, q.state.CurrentElements(), q.maxElements)
	}
	q.updateSize(int64(size))
	q.updateElementsCount(int64(elements))
	return nil
}

// Release returns quota taken by Hold, trusting the caller's bookkeeping.
func (q *LRUQueue) Release(size, elements uint64, lock *Lock) {
	q.updateSize(-int64(size))
	q.updateElementsCount(-int64(elements))
}

// ---- shuffle ----

// Shuffle applies a deterministically seeded random permutation to the
// queue. Stress tests only.
func (q *LRUQueue) Shuffle(lock *Lock) {
	var entries []*entry
	for e := q.head; e != nil; e = e.next {
		entries = append(entries, e)
	}
	r := rand.New(rand.NewSource(q.shuffleSeed))
	r.Shuffle(len(entries), func(i, j int) {
		entries[i], entries[j] = entries[j], entries[i]
	})
	for _, e := range entries {
		q.spliceToBack(e)
	}
}
