package scheduler

import "sync/atomic"

// Guard is a non-blocking mutual-exclusion gate for one job category. A
// scheduled invocation that finds the guard held is skipped, never queued.
type Guard struct {
	name    string
	running atomic.Bool
}

// NewGuard builds a named guard.
func NewGuard(name string) *Guard {
	return &Guard{name: name}
}

// Name returns the job name the guard protects.
func (g *Guard) Name() string {
	return g.name
}

// TryAcquire claims the guard if it is free.
func (g *Guard) TryAcquire() bool {
	return g.running.CompareAndSwap(false, true)
}

// Release frees the guard.
func (g *Guard) Release() {
	g.running.Store(false)
}
