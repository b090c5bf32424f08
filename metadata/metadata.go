// Package metadata maintains the per-key file segment map backing the
// priority engine: one metadata record per cache key, a mutex per record,
// and segment data files on local disk. The engine observes records only
// through the priority package interfaces.
package metadata

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/IvanBrykalov/fscache/priority"
)

// CacheMetadata is the concurrent key -> metadata map of one cache
// instance, rooted at a local directory that holds the segment files.
type CacheMetadata struct {
	dir  string
	keys *xsync.MapOf[priority.Key, *KeyMetadata]
	log  *slog.Logger
}

// New creates the metadata map rooted at dir. The directory is created
// lazily when the first segment lands.
func New(dir string, log *slog.Logger) *CacheMetadata {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &CacheMetadata{
		dir:  dir,
		keys: xsync.NewMapOf[priority.Key, *KeyMetadata](),
		log:  log,
	}
}

// GetOrCreateKey returns the metadata record for key, creating it if
// absent.
func (m *CacheMetadata) GetOrCreateKey(key priority.Key) *KeyMetadata {
	km, _ := m.keys.LoadOrCompute(key, func() *KeyMetadata {
		return &KeyMetadata{
			key: key,
			dir: filepath.Join(m.dir, key.String()),
			log: m.log,
		}
	})
	return km
}

// Key returns the metadata record for key, if present.
func (m *CacheMetadata) Key(key priority.Key) (*KeyMetadata, bool) {
	return m.keys.Load(key)
}

// KeyMetadata is one key's record: the per-key lock and the segment map
// it guards.
type KeyMetadata struct {
	key priority.Key
	dir string
	log *slog.Logger

	mu       sync.Mutex
	segments map[uint64]*FileSegment // by offset; guarded by mu
}

var _ priority.KeyMetadata = (*KeyMetadata)(nil)

// Key returns the cache key of this record.
func (km *KeyMetadata) Key() priority.Key { return km.key }

// TryLock attempts the per-key lock without blocking.
func (km *KeyMetadata) TryLock() (priority.LockedKey, bool) {
	if !km.mu.TryLock() {
		return nil, false
	}
	return &LockedKey{km: km}, true
}

// Lock blocks until the per-key lock is held. Must not be called with
// the priority lock held.
func (km *KeyMetadata) Lock() priority.LockedKey {
	km.mu.Lock()
	return &LockedKey{km: km}
}

// LockedKey is a held per-key lock giving access to the key's segments.
type LockedKey struct {
	km *KeyMetadata
}

var _ priority.LockedKey = (*LockedKey)(nil)

func (lk *LockedKey) Key() priority.Key { return lk.km.key }

func (lk *LockedKey) KeyMetadata() priority.KeyMetadata { return lk.km }

func (lk *LockedKey) Unlock() { lk.km.mu.Unlock() }

// SegmentByOffset returns the segment at offset, if present.
func (lk *LockedKey) SegmentByOffset(offset uint64) (priority.SegmentMetadata, bool) {
	seg, ok := lk.km.segments[offset]
	if !ok {
		return nil, false
	}
	return seg, true
}

// AddSegment materializes a new segment of size bytes on disk and
// registers it in the segment map.
func (lk *LockedKey) AddSegment(offset, size uint64) (*FileSegment, error) {
	km := lk.km
	if km.segments == nil {
		km.segments = make(map[uint64]*FileSegment)
	}
	if _, ok := km.segments[offset]; ok {
		return nil, &DuplicateSegmentError{Key: km.key, Offset: offset}
	}

	if err := os.MkdirAll(km.dir, 0o755); err != nil {
		return nil, err
	}
	seg := &FileSegment{
		key:    km.key,
		offset: offset,
		size:   size,
		path:   segmentPath(km.dir, offset),
	}
	if err := seg.create(); err != nil {
		return nil, err
	}
	km.segments[offset] = seg

	km.log.Debug("added file segment",
		slog.String("key", km.key.String()), slog.Uint64("offset", offset), slog.Uint64("size", size))
	return seg, nil
}

// RemoveSegment deletes the segment's map entry and data file. Removing
// a segment that is already gone is a no-op.
func (lk *LockedKey) RemoveSegment(seg priority.SegmentMetadata) error {
	km := lk.km
	cur, ok := km.segments[seg.Offset()]
	if !ok || priority.SegmentMetadata(cur) != seg {
		return nil
	}
	delete(km.segments, seg.Offset())

	km.log.Debug("removed file segment",
		slog.String("key", km.key.String()), slog.Uint64("offset", seg.Offset()), slog.Uint64("size", seg.Size()))

	if err := os.Remove(cur.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SegmentsCount returns the number of segments registered for the key.
func (lk *LockedKey) SegmentsCount() int { return len(lk.km.segments) }
