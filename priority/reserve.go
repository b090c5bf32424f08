package priority

// ReserveStat accounts the segments visited while collecting eviction
// candidates. The releasable side covers segments enrolled into the
// candidate set; the non-releasable side covers segments that are held
// by active readers or other holders and cannot be evicted right now.
//
// Callers use the split to distinguish "cache is full but releasable"
// (retry after eviction) from "cache is full of in-use segments" (back
// off).
type ReserveStat struct {
	ReleasableSize     uint64
	ReleasableCount    uint64
	NonReleasableSize  uint64
	NonReleasableCount uint64
}

func (s *ReserveStat) update(size uint64, releasable bool) {
	if releasable {
		s.ReleasableSize += size
		s.ReleasableCount++
	} else {
		s.NonReleasableSize += size
		s.NonReleasableCount++
	}
}

// stopConditionFunc tells iterateForEviction when enough candidates have
// been collected.
type stopConditionFunc func() bool

// iterateForEviction walks the queue LRU-first, enrolling releasable
// segments into res and accounting every visited segment in stat, until
// stop reports the goal is reached.
func (q *LRUQueue) iterateForEviction(res *EvictionCandidates, stat *ReserveStat, stop stopConditionFunc, lock *Lock) error {
	q.metrics.EvictionTry()
	res.bind(q.metrics)

	return q.Iterate(func(lk LockedKey, seg SegmentMetadata) IterationResult {
		if stop() {
			return IterationBreak
		}
		if seg.Releasable() {
			res.Add(seg, lk, lock)
			stat.update(seg.Size(), true)
		} else {
			q.metrics.SkippedFileSegment()
			stat.update(seg.Size(), false)
		}
		return IterationContinue
	}, lock)
}

// CollectCandidatesForEviction tries to make room for size bytes and one
// element. When the request already fits it returns true with res left
// untouched; otherwise it collects releasable segments LRU-first until a
// fresh canFit with the enrolled releases assumed would succeed, and
// returns whether that point was reached.
func (q *LRUQueue) CollectCandidatesForEviction(
	size uint64,
	stat *ReserveStat,
	res *EvictionCandidates,
	reachedSizeLimit, reachedElementsLimit *bool,
	lock *Lock,
) (bool, error) {
	if !lock.held() {
		return false, logicErrorf("collect candidates called without the priority lock")
	}
	if q.canFit(size, 1, 0, 0, reachedSizeLimit, reachedElementsLimit) {
		return true, nil
	}

	canFit := func() bool {
		return q.canFit(size, 1, stat.ReleasableSize, stat.ReleasableCount, nil, nil)
	}
	if err := q.iterateForEviction(res, stat, canFit, lock); err != nil {
		return false, err
	}
	return canFit(), nil
}

// CollectCandidatesToShrink collects at most maxCandidates releasable
// segments, stopping once usage net of the enrolled releases meets both
// desired targets. Used for background trimming toward smaller limits.
func (q *LRUQueue) CollectCandidatesToShrink(
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
		size := q.state.CurrentSize()
		elements := q.state.CurrentElements()
		// Account candidates collected in this very sweep: their bytes
		// are still counted until Finalize runs.
		sizeMet := size-min(size, stat.ReleasableSize) <= desiredSize
		elementsMet := elements-min(elements, stat.ReleasableCount) <= desiredElements
		return sizeMet && elementsMet
	}
	if err := q.iterateForEviction(res, stat, stop, lock); err != nil {
		return res, err
	}
	return res, nil
}
