package testutil

import (
	"sync"
	"time"

	"github.com/examalpha/examshell/internal/timing"
)

// FakeClock implements timing.Clock for deterministic tests. Time only moves
// when Advance is called.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	created chan struct{}
}

// NewFakeClock returns a clock fixed at a stable instant.
func NewFakeClock() *FakeClock {
	return &FakeClock{
		now:     time.Date(2026, 1, 17, 12, 0, 0, 0, time.UTC),
		created: make(chan struct{}, 64),
	}
}

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// NewTimer registers a timer that fires once Advance reaches its deadline.
func (c *FakeClock) NewTimer(d time.Duration) timing.Timer {
	c.mu.Lock()
	t := &fakeTimer{
		deadline: c.now.Add(d),
		ch:       make(chan time.Time, 1),
	}
	c.timers = append(c.timers, t)
	c.mu.Unlock()

	select {
	case c.created <- struct{}{}:
	default:
	}
	return t
}

// Advance moves time forward and fires any expired timers.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	timers := append([]*fakeTimer(nil), c.timers...)
	c.mu.Unlock()

	for _, t := range timers {
		t.mu.Lock()
		if !t.stopped && !t.fired && !t.deadline.After(now) {
			t.fired = true
			t.ch <- now
		}
		t.mu.Unlock()
	}
}

// Pending reports how many timers have neither fired nor been stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	timers := append([]*fakeTimer(nil), c.timers...)
	c.mu.Unlock()

	n := 0
	for _, t := range timers {
		t.mu.Lock()
		if !t.stopped && !t.fired {
			n++
		}
		t.mu.Unlock()
	}
	return n
}

// TimerCreated is signalled each time NewTimer is called, so tests can wait
// for a goroutine to arm its timer before advancing.
func (c *FakeClock) TimerCreated() <-chan struct{} {
	return c.created
}

type fakeTimer struct {
	mu       sync.Mutex
	deadline time.Time
	ch       chan time.Time
	stopped  bool
	fired    bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (t *fakeTimer) C() <-chan time.Time {
	return t.ch
}
