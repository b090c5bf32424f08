package priority

// SLRUQueue is a segmented LRU: a probationary queue that admits new
// entries and a protected queue that holds entries accessed again. A
// promotion out of probationary may first demote cold protected entries
// back, so one scan of a large table cannot flush the hot set.
//
// Each segment is a full LRUQueue with its own State and its share of
// the limits; the segments exchange entries through Move.
type SLRUQueue struct {
	probationary *LRUQueue
	protected    *LRUQueue
}

// NewSLRU constructs a segmented LRU queue. sizeRatio is the protected
// share of both limits and must be in (0, 1). Options.State must be nil:
// the segments keep separate states and the queue reports their sum.
func NewSLRU(opt Options, sizeRatio float64) (*SLRUQueue, error) {
	if sizeRatio <= 0 || sizeRatio >= 1 {
		return nil, logicErrorf("invalid SLRU size ratio: %v", sizeRatio)
	}
	if opt.State != nil {
		return nil, logicErrorf("SLRU segments keep separate states; shared state is not supported")
	}

	protectedOpt := opt
	protectedOpt.MaxSize = uint64(float64(opt.MaxSize) * sizeRatio)
	protectedOpt.MaxElements = uint64(float64(opt.MaxElements) * sizeRatio)

	probationaryOpt := opt
	probationaryOpt.MaxSize = opt.MaxSize - protectedOpt.MaxSize
	probationaryOpt.MaxElements = opt.MaxElements - protectedOpt.MaxElements

	s := &SLRUQueue{
		probationary: NewLRU(probationaryOpt),
		protected:    NewLRU(protectedOpt),
	}
	// The segments keep separate states, so each reports the combined
	// usage instead of its own slice.
	s.probationary.metrics = slruUsageMetrics{Metrics: s.probationary.metrics, s: s}
	s.protected.metrics = slruUsageMetrics{Metrics: s.protected.metrics, s: s}
	return s, nil
}

// slruUsageMetrics rewrites Usage signals of one segment to carry the
// combined totals of both.
type slruUsageMetrics struct {
	Metrics
	s *SLRUQueue
}

func (m slruUsageMetrics) Usage(bytes, elements uint64) {
	m.Metrics.Usage(
		m.s.probationary.state.CurrentSize()+m.s.protected.state.CurrentSize(),
		m.s.probationary.state.CurrentElements()+m.s.protected.state.CurrentElements(),
	)
}

var _ Queue = (*SLRUQueue)(nil)

// Probationary exposes the admission segment.
func (s *SLRUQueue) Probationary() *LRUQueue { return s.probationary }

// Protected exposes the hot segment.
func (s *SLRUQueue) Protected() *LRUQueue { return s.protected }

// Add admits a new entry into the probationary segment.
func (s *SLRUQueue) Add(km KeyMetadata, offset, size uint64, lock *Lock) (Iterator, error) {
	if dup := s.protected.find(km.Key(), offset); dup != nil {
		return nil, logicErrorf("attempt to add duplicate queue entry (key: %s, offset: %d, size: %d)", km.Key(), offset, size)
	}
	inner, err := s.probationary.add(newEntry(km, offset, size), lock)
	if err != nil {
		return nil, err
	}
	return &SLRUIterator{s: s, inner: inner}, nil
}

// CanFit reports whether either segment can take the request.
func (s *SLRUQueue) CanFit(size, elements uint64, lock *Lock) bool {
	return s.probationary.CanFit(size, elements, lock) || s.protected.CanFit(size, elements, lock)
}

// Size returns the combined byte total of both segments.
func (s *SLRUQueue) Size(lock *Lock) uint64 {
	return s.probationary.Size(lock) + s.protected.Size(lock)
}

// ElementsCount returns the combined element count of both segments.
func (s *SLRUQueue) ElementsCount(lock *Lock) uint64 {
	return s.probationary.ElementsCount(lock) + s.protected.ElementsCount(lock)
}

// CollectCandidatesForEviction makes room in the probationary segment,
// where new entries are admitted.
func (s *SLRUQueue) CollectCandidatesForEviction(
	size uint64,
	stat *ReserveStat,
	res *EvictionCandidates,
	reachedSizeLimit, reachedElementsLimit *bool,
	lock *Lock,
) (bool, error) {
	return s.probationary.CollectCandidatesForEviction(size, stat, res, reachedSizeLimit, reachedElementsLimit, lock)
}

// CollectCandidatesToShrink walks the probationary segment first and the
// protected one after, against the combined desired targets.
func (s *SLRUQueue) CollectCandidatesToShrink(
	desiredSize, desiredElements, maxCandidates uint64,
	stat *ReserveStat,
	lock *Lock,
) (*EvictionCandidates, error) {
	res := NewEvictionCandidates()
	if !lock.held() {
		return res, logicErrorf("collect candidates called without the priority lock")
	}
	if maxCandidates == 0 {
		return res, nil
	}

	stop := func() bool {
		if res.Size() >= maxCandidates {
			return true
		}
		size := s.probationary.state.CurrentSize() + s.protected.state.CurrentSize()
		elements := s.probationary.state.CurrentElements() + s.protected.state.CurrentElements()
		sizeMet := size-min(size, stat.ReleasableSize) <= desiredSize
		elementsMet := elements-min(elements, stat.ReleasableCount) <= desiredElements
		return sizeMet && elementsMet
	}
	if err := s.probationary.iterateForEviction(res, stat, stop, lock); err != nil {
		return res, err
	}
	if stop() {
		return res, nil
	}
	err := s.protected.iterateForEviction(res, stat, stop, lock)
	return res, err
}

// Iterate walks the probationary segment, then the protected one.
func (s *SLRUQueue) Iterate(fn IterateFunc, lock *Lock) error {
	stopped := false
	wrapped := func(lk LockedKey, seg SegmentMetadata) IterationResult {
		r := fn(lk, seg)
		if r == IterationBreak {
			stopped = true
		}
		return r
	}
	if err := s.probationary.Iterate(wrapped, lock); err != nil {
		return err
	}
	if stopped {
		return nil
	}
	return s.protected.Iterate(wrapped, lock)
}

// Dump snapshots both segments, probationary first.
func (s *SLRUQueue) Dump(lock *Lock) ([]EntryInfo, error) {
	res, err := s.probationary.Dump(lock)
	if err != nil {
		return nil, err
	}
	hot, err := s.protected.Dump(lock)
	if err != nil {
		return nil, err
	}
	return append(res, hot...), nil
}

// ModifySizeLimits splits the new limits between the segments by the
// current protected/total ratio of the old ones.
func (s *SLRUQueue) ModifySizeLimits(maxSize, maxElements uint64, lock *Lock) error {
	ratio := 0.5
	if total := s.probationary.maxSize + s.protected.maxSize; total > 0 {
		ratio = float64(s.protected.maxSize) / float64(total)
	}
	protectedSize := uint64(float64(maxSize) * ratio)
	protectedElements := uint64(float64(maxElements) * ratio)
	if err := s.protected.ModifySizeLimits(protectedSize, protectedElements, lock); err != nil {
		return err
	}
	return s.probationary.ModifySizeLimits(maxSize-protectedSize, maxElements-protectedElements, lock)
}

// Hold accounts in-flight space in the probationary segment, where the
// download will be admitted.
func (s *SLRUQueue) Hold(size, elements uint64, lock *Lock) error {
	return s.probationary.Hold(size, elements, lock)
}

// Release returns quota taken by Hold.
func (s *SLRUQueue) Release(size, elements uint64, lock *Lock) {
	s.probationary.Release(size, elements, lock)
}

// Shuffle permutes both segments. Stress tests only.
func (s *SLRUQueue) Shuffle(lock *Lock) {
	s.probationary.Shuffle(lock)
	s.protected.Shuffle(lock)
}

// increasePriority promotes a probationary entry into the protected
// segment when it fits, demoting cold protected entries back first if
// that frees enough room. When promotion is impossible the entry is
// bumped within probationary.
func (s *SLRUQueue) increasePriority(it *SLRUIterator, lock *Lock) (uint64, error) {
	if err := it.inner.assertValid(); err != nil {
		return 0, err
	}
	if it.inProtected() {
		return it.inner.IncreasePriority(lock)
	}
	size := it.inner.e.size

	if !s.protected.CanFit(size, 1, lock) {
		for s.protected.head != nil && !s.protected.CanFit(size, 1, lock) {
			h := s.protected.head
			if h.size == 0 {
				s.protected.remove(h, lock)
				continue
			}
			// An evicting head belongs to an in-flight eviction batch;
			// leave it alone and give up on demotion.
			if h.evicting {
				break
			}
			if !s.probationary.CanFit(h.size, 1, lock) {
				break
			}
			hi := &LRUIterator{q: s.protected, e: h}
			if _, err := s.probationary.Move(hi, s.protected, lock); err != nil {
				return 0, err
			}
		}
	}

	if s.protected.CanFit(size, 1, lock) {
		inner, err := s.protected.Move(it.inner, s.probationary, lock)
		if err != nil {
			return 0, err
		}
		it.inner = inner
	}
	return it.inner.IncreasePriority(lock)
}

// SLRUIterator is the Iterator of an SLRUQueue. It wraps an LRU handle;
// which segment currently links the entry is derived from the entry
// itself, so demotions performed on other entries' behalf never leave a
// stale handle behind.
type SLRUIterator struct {
	s     *SLRUQueue
	inner *LRUIterator
}

// inProtected reports whether the entry currently lives in the protected
// segment. Callers hold the priority lock and have validated inner.
func (it *SLRUIterator) inProtected() bool {
	return it.inner.e.owner == it.s.protected
}

var _ Iterator = (*SLRUIterator)(nil)

// Entry returns the referenced entry view.
func (it *SLRUIterator) Entry() Entry { return it.inner.Entry() }

// IncreasePriority bumps recency, promoting across segments when the
// protected one has (or can make) room.
func (it *SLRUIterator) IncreasePriority(lock *Lock) (uint64, error) {
	return it.s.increasePriority(it, lock)
}

// Remove unlinks the entry from its segment and invalidates the handle.
func (it *SLRUIterator) Remove(lock *Lock) error { return it.inner.Remove(lock) }

// Invalidate zeroes the entry's size in its segment.
func (it *SLRUIterator) Invalidate(lock *Lock) error { return it.inner.Invalidate(lock) }

// IncrementSize grows the entry in its segment.
func (it *SLRUIterator) IncrementSize(delta uint64, lock *Lock) error {
	return it.inner.IncrementSize(delta, lock)
}

// DecrementSize shrinks the entry in its segment.
func (it *SLRUIterator) DecrementSize(delta uint64, lock *Lock) error {
	return it.inner.DecrementSize(delta, lock)
}

func (it *SLRUIterator) setEvicting(v bool) { it.inner.setEvicting(v) }

func (it *SLRUIterator) valid() bool { return it.inner.valid() }
