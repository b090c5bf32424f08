package metadata

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/IvanBrykalov/fscache/priority"
)

// FileSegment is one cached byte range: a data file on local disk plus
// its bookkeeping. A segment is releasable while no reader pins it.
type FileSegment struct {
	key    priority.Key
	offset uint64
	size   uint64
	path   string

	// refs counts active readers. A pinned segment survives eviction
	// sweeps; the sweep accounts it as non-releasable.
	refs atomic.Int64

	// it is the segment's priority-queue handle, set right after the
	// queue entry is added and read during candidate collection.
	it priority.Iterator
}

var _ priority.SegmentMetadata = (*FileSegment)(nil)

// Offset returns the byte offset of the range within its key.
func (s *FileSegment) Offset() uint64 { return s.offset }

// Size returns the segment size in bytes.
func (s *FileSegment) Size() uint64 { return s.size }

// Path returns the location of the data file.
func (s *FileSegment) Path() string { return s.path }

// Releasable reports that no reader currently pins the segment.
func (s *FileSegment) Releasable() bool { return s.refs.Load() == 0 }

// Acquire pins the segment for a reader, making it non-releasable.
func (s *FileSegment) Acquire() { s.refs.Add(1) }

// Release drops a reader pin.
func (s *FileSegment) Release() {
	if s.refs.Add(-1) < 0 {
		panic(fmt.Sprintf("segment %s:%d released more times than acquired", s.key, s.offset))
	}
}

// QueueIterator returns the segment's priority-queue handle.
func (s *FileSegment) QueueIterator() priority.Iterator { return s.it }

// SetQueueIterator binds the priority-queue handle. Called once, right
// after the queue entry is added.
func (s *FileSegment) SetQueueIterator(it priority.Iterator) { s.it = it }

// create materializes the data file as a sparse file of the segment
// size.
func (s *FileSegment) create() error {
	f, err := os.Create(s.path)
	if err != nil {
		return err
	}
	if err := f.Truncate(int64(s.size)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func segmentPath(keyDir string, offset uint64) string {
	return filepath.Join(keyDir, strconv.FormatUint(offset, 10))
}

// DuplicateSegmentError reports an attempt to add a segment at an offset
// that is already occupied.
type DuplicateSegmentError struct {
	Key    priority.Key
	Offset uint64
}

func (e *DuplicateSegmentError) Error() string {
	return fmt.Sprintf("segment already exists (key: %s, offset: %d)", e.Key, e.Offset)
}
