package priority

// Entry is one node of a priority queue, describing a single cached byte
// range. Identity is the (key, offset) pair and never changes; size, hits
// and the evicting flag are guarded by the priority lock.
//
// size == 0 means the entry was invalidated: the counters were already
// decremented and the node stays linked only until the next iteration
// sweep reaps it.
type entry struct {
	key         Key
	offset      uint64
	keyMetadata KeyMetadata

	// ---- guarded by the priority lock ----
	size     uint64
	hits     uint64
	evicting bool

	// Intrusive list links: head is LRU, tail is MRU. owner is the
	// queue currently linking the entry; Move rebinds it, which keeps
	// every aliasing iterator handle valid across queues.
	prev  *entry
	next  *entry
	owner *LRUQueue
}

func newEntry(km KeyMetadata, offset, size uint64) *entry {
	return &entry{
		key:         km.Key(),
		offset:      offset,
		size:        size,
		keyMetadata: km,
	}
}

// Entry is the read-only view of a queue node handed out through Iterator.
// Accessors for the mutable fields take the priority lock token.
type Entry struct {
	e *entry
}

// Key returns the cache key the entry belongs to.
func (e Entry) Key() Key { return e.e.key }

// Offset returns the byte offset of the range within its key.
func (e Entry) Offset() uint64 { return e.e.offset }

// KeyMetadata returns the owning key-metadata record.
func (e Entry) KeyMetadata() KeyMetadata { return e.e.keyMetadata }

// Size returns the current on-disk byte size; 0 means invalidated.
func (e Entry) Size(*Lock) uint64 { return e.e.size }

// Hits returns the number of priority increases the entry received.
func (e Entry) Hits(*Lock) uint64 { return e.e.hits }

// Evicting reports whether the entry is enrolled in an in-flight
// eviction batch.
func (e Entry) Evicting(*Lock) bool { return e.e.evicting }
