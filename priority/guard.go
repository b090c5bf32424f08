package priority

import "sync"

// Guard is the cache-wide priority lock. It protects the queue links, the
// State counters, and every entry's size and evicting flag. There is one
// Guard per cache instance; all queues layered over the same cache (main,
// probationary, query-scoped) share it.
type Guard struct {
	mu sync.Mutex
}

// Lock acquires the guard and returns a token proving ownership.
// Queue methods take the token instead of locking internally so that a
// caller can batch several operations into one critical section.
func (g *Guard) Lock() *Lock {
	g.mu.Lock()
	return &Lock{guard: g}
}

// Lock is proof that its Guard is currently held by the caller.
// A released token must not be reused.
type Lock struct {
	guard *Guard
}

// Unlock releases the guard and invalidates the token.
func (l *Lock) Unlock() {
	g := l.guard
	l.guard = nil
	g.mu.Unlock()
}

func (l *Lock) held() bool { return l != nil && l.guard != nil }
