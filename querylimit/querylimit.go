// Package querylimit provides the query-scoped priority layer: each
// running query may carry its own small LRU queue and a record of the
// segments it brought into the cache, so that one query cannot flood the
// shared space. EvictionCandidates.Finalize notifies a QueryContext about
// evicted segments through the priority.QueryContext interface.
package querylimit

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/IvanBrykalov/fscache/priority"
)

// Registry tracks the active query contexts by query ID.
type Registry struct {
	queries *xsync.MapOf[string, *QueryContext]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{queries: xsync.NewMapOf[string, *QueryContext]()}
}

// GetOrCreate returns the context for queryID, creating it with the
// given limits when absent. recacheOnExceed selects the behavior when a
// query overruns its budget: re-admit through the shared queue instead
// of failing.
func (r *Registry) GetOrCreate(queryID string, maxSize, maxElements uint64, recacheOnExceed bool) *QueryContext {
	qc, _ := r.queries.LoadOrCompute(queryID, func() *QueryContext {
		return &QueryContext{
			records: make(map[keyAndOffset]priority.Iterator),
			queue: priority.NewLRU(priority.Options{
				MaxSize:     maxSize,
				MaxElements: maxElements,
			}),
			recacheOnExceed: recacheOnExceed,
		}
	})
	return qc
}

// Get returns the context for queryID, if registered.
func (r *Registry) Get(queryID string) (*QueryContext, bool) {
	return r.queries.Load(queryID)
}

// Remove drops the context for queryID, typically when the query ends.
func (r *Registry) Remove(queryID string) {
	r.queries.Delete(queryID)
}

type keyAndOffset struct {
	key    priority.Key
	offset uint64
}

// QueryContext is one query's view of the cache: its own priority queue
// plus the records of the segments it touched. All record and queue
// mutations happen under the cache's priority lock, like every other
// priority transition.
type QueryContext struct {
	// guarded by the priority lock
	records map[keyAndOffset]priority.Iterator

	queue           *priority.LRUQueue
	recacheOnExceed bool
}

var _ priority.QueryContext = (*QueryContext)(nil)

// Priority exposes the query's own LRU queue.
func (qc *QueryContext) Priority() *priority.LRUQueue { return qc.queue }

// RecacheOnExceed reports whether an over-budget query re-admits
// segments through the shared queue instead of failing the reservation.
func (qc *QueryContext) RecacheOnExceed() bool { return qc.recacheOnExceed }

// Record returns the query-local queue handle for (key, offset).
func (qc *QueryContext) Record(key priority.Key, offset uint64, lock *priority.Lock) (priority.Iterator, bool) {
	it, ok := qc.records[keyAndOffset{key, offset}]
	return it, ok
}

// Add registers (key, offset) in the query's queue and records the
// handle.
func (qc *QueryContext) Add(km priority.KeyMetadata, offset, size uint64, lock *priority.Lock) error {
	it, err := qc.queue.Add(km, offset, size, lock)
	if err != nil {
		return err
	}
	qc.records[keyAndOffset{km.Key(), offset}] = it
	return nil
}

// Remove drops the record for (key, offset) and unlinks its entry from
// the query's queue. Absent records are ignored: the shared queue may
// evict segments a finished sub-query never recorded.
func (qc *QueryContext) Remove(key priority.Key, offset uint64, lock *priority.Lock) {
	ko := keyAndOffset{key, offset}
	it, ok := qc.records[ko]
	if !ok {
		return
	}
	delete(qc.records, ko)
	// The handle may already be invalidated by the shared layer; Remove
	// still unlinks the node.
	_ = it.Remove(lock)
}
