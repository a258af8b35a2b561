package session

import "sync/atomic"

// guard admits one holder at a time. A second acquire fails instead of
// waiting.
type guard struct {
	held atomic.Bool
}

func (g *guard) tryAcquire() bool {
	return g.held.CompareAndSwap(false, true)
}

func (g *guard) release() {
	g.held.Store(false)
}

func (g *guard) busy() bool {
	return g.held.Load()
}
