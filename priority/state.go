package priority

import "github.com/IvanBrykalov/fscache/internal/util"

// State holds the running totals of a queue: current byte size and current
// element count over all live (non-invalidated) entries.
//
// Both counters are written only under the priority lock, but telemetry
// readers may load them without it; the values are advisory in that case.
// The padded atomics keep the two hot counters on separate cache lines.
type State struct {
	currentSize     util.PaddedAtomicUint64
	currentElements util.PaddedAtomicUint64
}

// NewState returns a fresh zeroed State. Pass the same State to two queue
// constructors to share counters between them.
func NewState() *State { return &State{} }

// CurrentSize returns the total byte size of live entries.
func (s *State) CurrentSize() uint64 { return s.currentSize.Load() }

// CurrentElements returns the number of live entries.
func (s *State) CurrentElements() uint64 { return s.currentElements.Load() }

// addSize adjusts the byte total. Callers hold the priority lock.
func (s *State) addSize(delta int64) {
	if delta >= 0 {
		s.currentSize.Add(uint64(delta))
	} else {
		s.currentSize.Add(^uint64(-delta - 1)) // two's complement subtract
	}
}

// addElements adjusts the element count. Callers hold the priority lock.
func (s *State) addElements(delta int64) {
	if delta >= 0 {
		s.currentElements.Add(uint64(delta))
	} else {
		s.currentElements.Add(^uint64(-delta - 1))
	}
}
