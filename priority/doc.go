// Package priority implements the LRU-ordered priority queue and eviction
// protocol that bound the disk space consumed by cached remote-object
// segments.
//
// Design
//
//   - Ordering: an intrusive doubly linked list of entries, head = LRU,
//     tail = MRU. Every access splices the entry to the tail. Nodes are
//     pointer-stable, so outstanding Iterator handles survive unrelated
//     insertions and removals.
//
//   - Accounting: a queue maintains the total byte size and element count
//     of all live entries in a State object. Two queues may share one
//     State, in which case moving an entry between them leaves the shared
//     totals unchanged while each queue's private view follows the entry.
//
//   - Locking: all mutating operations require the cache-wide priority
//     lock, modeled as a Guard that hands out Lock tokens. Methods take
//     the token as proof of ownership. Per-key metadata locks are only
//     ever acquired with TryLock during iteration; an entry whose key
//     lock cannot be taken is treated as stale and removed. Callers may
//     legitimately hold a key lock while taking the priority lock, which
//     is exactly why the sweep never blocks on key locks.
//
//   - Eviction: a reservation collects EvictionCandidates under the
//     priority lock, marking each enrolled entry as evicting so that
//     concurrent reservations cannot double-count it. Disk deletion
//     (Evict) runs without the priority lock; Finalize then invalidates
//     the queue entries under the lock again. Dropping candidates via
//     Close without finalizing restores the evicting flags, so an
//     abandoned reservation leaves the queue fully evictable.
//
//   - Invalidation: an entry is logically removed by zeroing its size and
//     decrementing the counters immediately; the node stays linked until
//     the next iteration sweep reaps it.
//
// Errors
//
// Invariant violations (duplicate insertion, over-commit, zero-size add,
// size mismatch between queue accounting and segment metadata, use of a
// removed iterator, shrinking limits below current usage) are reported as
// errors matching ErrLogic. They indicate a caller bug and are not meant
// to be recovered from. Transient per-entry conditions (failed key
// try-lock, vanished segment, evicting flag set) are absorbed by the
// sweep and observable only through Metrics.
package priority
