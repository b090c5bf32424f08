package priority

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// --- test doubles ---

// fakeSegment implements SegmentMetadata over plain fields.
type fakeSegment struct {
	offset     uint64
	size       uint64
	releasable atomic.Bool
	it         Iterator
}

func (s *fakeSegment) Offset() uint64          { return s.offset }
func (s *fakeSegment) Size() uint64            { return s.size }
func (s *fakeSegment) Releasable() bool        { return s.releasable.Load() }
func (s *fakeSegment) QueueIterator() Iterator { return s.it }

// fakeKey implements KeyMetadata with a real mutex, so try-lock behavior
// during iteration is exercised for real.
type fakeKey struct {
	key      Key
	mu       sync.Mutex
	segments map[uint64]*fakeSegment
}

func newFakeKey(name string) *fakeKey {
	return &fakeKey{key: NewKey(name), segments: make(map[uint64]*fakeSegment)}
}

func (k *fakeKey) Key() Key { return k.key }

func (k *fakeKey) TryLock() (LockedKey, bool) {
	if !k.mu.TryLock() {
		return nil, false
	}
	return &fakeLockedKey{k: k}, true
}

func (k *fakeKey) Lock() LockedKey {
	k.mu.Lock()
	return &fakeLockedKey{k: k}
}

type fakeLockedKey struct{ k *fakeKey }

func (lk *fakeLockedKey) Key() Key                 { return lk.k.key }
func (lk *fakeLockedKey) KeyMetadata() KeyMetadata { return lk.k }
func (lk *fakeLockedKey) Unlock()                  { lk.k.mu.Unlock() }

func (lk *fakeLockedKey) SegmentByOffset(offset uint64) (SegmentMetadata, bool) {
	seg, ok := lk.k.segments[offset]
	if !ok {
		return nil, false
	}
	return seg, true
}

func (lk *fakeLockedKey) RemoveSegment(seg SegmentMetadata) error {
	cur, ok := lk.k.segments[seg.Offset()]
	if !ok || SegmentMetadata(cur) != seg {
		return nil
	}
	delete(lk.k.segments, seg.Offset())
	return nil
}

// addSegment registers a releasable segment in the fake metadata and adds
// the matching queue entry.
func addSegment(t *testing.T, q Queue, k *fakeKey, offset, size uint64, lock *Lock) *fakeSegment {
	t.Helper()
	it, err := q.Add(k, offset, size, lock)
	if err != nil {
		t.Fatalf("Add(%s, %d, %d): %v", k.key, offset, size, err)
	}
	seg := &fakeSegment{offset: offset, size: size, it: it}
	seg.releasable.Store(true)
	k.mu.Lock()
	k.segments[offset] = seg
	k.mu.Unlock()
	return seg
}

// recordingMetrics counts every telemetry signal.
type recordingMetrics struct {
	tries           atomic.Uint64
	skipped         atomic.Uint64
	skippedEvicting atomic.Uint64
	evictedBytes    atomic.Uint64
	evictedSegments atomic.Uint64
	evictDurations  atomic.Uint64
}

func (m *recordingMetrics) EvictionTry()                { m.tries.Add(1) }
func (m *recordingMetrics) SkippedFileSegment()         { m.skipped.Add(1) }
func (m *recordingMetrics) SkippedEvictingFileSegment() { m.skippedEvicting.Add(1) }
func (m *recordingMetrics) Evicted(bytes, segments uint64) {
	m.evictedBytes.Add(bytes)
	m.evictedSegments.Add(segments)
}
func (m *recordingMetrics) EvictDuration(time.Duration) { m.evictDurations.Add(1) }
func (m *recordingMetrics) Usage(bytes, elements uint64) {}

var _ Metrics = (*recordingMetrics)(nil)

// dumpOffsets flattens a dump into offsets for order assertions.
func dumpOffsets(t *testing.T, q Queue, lock *Lock) []uint64 {
	t.Helper()
	dump, err := q.Dump(lock)
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	res := make([]uint64, 0, len(dump))
	for _, e := range dump {
		res = append(res, e.Offset)
	}
	return res
}
