package priority

import "log/slog"

// IterationResult tells Iterate what to do after a callback.
type IterationResult int

const (
	// IterationBreak stops the sweep.
	IterationBreak IterationResult = iota
	// IterationContinue advances to the next entry.
	IterationContinue
	// IterationRemoveAndContinue unlinks the visited entry and advances.
	IterationRemoveAndContinue
)

// IterateFunc is invoked for each live entry during a sweep. It runs with
// both the priority lock and the per-key lock held: it must not block,
// perform I/O, or re-acquire either lock.
type IterateFunc func(lk LockedKey, seg SegmentMetadata) IterationResult

// EntryInfo is a point-in-time snapshot of one queue entry, ordered
// LRU-first in a Dump.
type EntryInfo struct {
	Key    Key
	Offset uint64
	Size   uint64
	Hits   uint64
}

// Queue is a priority queue of cached segments with byte and element
// limits (0 means unbounded for either). Implementations: LRUQueue and
// SLRUQueue. All methods taking a *Lock require the cache's priority
// lock to be held.
type Queue interface {
	// Add appends a live entry for (km.Key(), offset) and returns its
	// handle. size must be > 0, the pair must not be present, and the
	// byte limit must accommodate the entry; violations are ErrLogic.
	Add(km KeyMetadata, offset, size uint64, lock *Lock) (Iterator, error)

	// CanFit reports whether size bytes and elements entries fit now.
	CanFit(size, elements uint64, lock *Lock) bool

	// CollectCandidatesForEviction tries to make room for size bytes and
	// one element. It returns true immediately when the request already
	// fits; otherwise it walks entries LRU-first, enrolling releasable
	// segments into res and accounting every visited segment in stat,
	// until the request would fit given the enrolled releases. The
	// reached pointers, when non-nil, are OR-ed with the limit that was
	// binding on entry.
	CollectCandidatesForEviction(size uint64, stat *ReserveStat,
		res *EvictionCandidates, reachedSizeLimit, reachedElementsLimit *bool,
		lock *Lock) (bool, error)

	// CollectCandidatesToShrink walks entries LRU-first collecting at
	// most maxCandidates releasable segments, stopping early once the
	// usage net of enrolled releases meets both desired targets. Used
	// for background trimming.
	CollectCandidatesToShrink(desiredSize, desiredElements, maxCandidates uint64,
		stat *ReserveStat, lock *Lock) (*EvictionCandidates, error)

	// Iterate walks the queue LRU-first, reaping invalidated entries,
	// skipping evicting ones, and delivering each remaining entry's
	// locked key and segment metadata to fn. An entry whose key lock
	// cannot be taken or whose segment vanished is removed as stale. A
	// size mismatch between queue accounting and segment metadata is
	// ErrLogic.
	Iterate(fn IterateFunc, lock *Lock) error

	// Dump returns a snapshot of the queue as (key, offset, size, hits)
	// tuples, LRU-first.
	Dump(lock *Lock) ([]EntryInfo, error)

	// ModifySizeLimits replaces the limits. It is ErrLogic to shrink
	// below current usage; run an eviction pass first.
	ModifySizeLimits(maxSize, maxElements uint64, lock *Lock) error

	// Hold reserves size bytes and elements entries without adding a
	// concrete entry, failing with ErrLogic when they do not fit. Used
	// to account space during an in-flight download.
	Hold(size, elements uint64, lock *Lock) error

	// Release returns quota taken by Hold. It trusts the caller's
	// bookkeeping.
	Release(size, elements uint64, lock *Lock)

	// Size returns the current byte total of the underlying State.
	Size(lock *Lock) uint64

	// ElementsCount returns the current element count of the State.
	ElementsCount(lock *Lock) uint64

	// Shuffle deterministically permutes the queue. Stress tests only.
	Shuffle(lock *Lock)
}

// Iterator is a stable handle to one queue entry. It stays valid across
// unrelated insertions and removals; Remove invalidates it, and any later
// use is ErrLogic.
type Iterator interface {
	// Entry returns the referenced entry view.
	Entry() Entry
	// IncreasePriority makes the entry most-recently-used and returns
	// its incremented hit count.
	IncreasePriority(lock *Lock) (uint64, error)
	// Remove unlinks the entry and invalidates the handle.
	Remove(lock *Lock) error
	// Invalidate zeroes the entry's size and decrements the counters
	// immediately, leaving the node linked until the next sweep. It is a
	// no-op on an already invalidated entry.
	Invalidate(lock *Lock) error
	// IncrementSize grows the entry and the queue byte total by delta.
	IncrementSize(delta uint64, lock *Lock) error
	// DecrementSize shrinks the entry and the queue byte total by delta.
	DecrementSize(delta uint64, lock *Lock) error

	// setEvicting flips the entry's evicting flag under the priority
	// lock. Only EvictionCandidates drives this transition, which keeps
	// the Evicting -> Live rollback path in one place.
	setEvicting(evicting bool)

	// valid reports whether the handle still references a linked entry.
	valid() bool
}

// KeyMetadata is the engine's view of one key's metadata record. The
// per-key segment map, its locking, and the on-disk layout live outside
// the engine; entries only carry this opaque handle.
type KeyMetadata interface {
	Key() Key
	// TryLock attempts the per-key lock without blocking. Iteration uses
	// it exclusively, so holders of a key lock may take the priority
	// lock without deadlocking against the sweep.
	TryLock() (LockedKey, bool)
	// Lock blocks until the per-key lock is held. Must not be called
	// with the priority lock held.
	Lock() LockedKey
}

// LockedKey is a held per-key lock giving access to the key's segments.
type LockedKey interface {
	Key() Key
	// KeyMetadata returns the record this lock belongs to.
	KeyMetadata() KeyMetadata
	// SegmentByOffset returns the segment at offset, if present.
	SegmentByOffset(offset uint64) (SegmentMetadata, bool)
	// RemoveSegment deletes the segment's metadata and on-disk data,
	// releasing its disk bytes. Removing a segment that is already gone
	// is a no-op.
	RemoveSegment(seg SegmentMetadata) error
	Unlock()
}

// SegmentMetadata describes one cached file segment.
type SegmentMetadata interface {
	Offset() uint64
	Size() uint64
	// Releasable reports that no consumer currently references the
	// segment, so it is safe to delete.
	Releasable() bool
	// QueueIterator returns the segment's priority-queue handle.
	QueueIterator() Iterator
}

// QueryContext is the query-scoped priority layer that Finalize notifies
// about evicted segments. See package querylimit.
type QueryContext interface {
	Remove(key Key, offset uint64, lock *Lock)
}

// Options configures a queue. Zero values are safe: no limits, no
// metrics, no logging.
type Options struct {
	// MaxSize is the byte limit; 0 = unbounded.
	MaxSize uint64
	// MaxElements is the entry count limit; 0 = unbounded.
	MaxElements uint64
	// State optionally shares counters with another queue. Nil means a
	// fresh State owned by this queue alone.
	State *State
	// Metrics receives telemetry signals; nil => NoopMetrics.
	Metrics Metrics
	// Logger receives debug-level per-operation lines; nil => discard.
	Logger *slog.Logger
	// ShuffleSeed seeds the deterministic Shuffle permutation.
	// 0 is treated as 1 so runs are reproducible by default.
	ShuffleSeed int64
}
