// Package timing provides the clock abstraction and the fixed-delay helper
// used by the session's grace period.
package timing

import "time"

// Clock provides time-related operations for testability.
// Use RealClock in production and testutil.FakeClock in tests.
type Clock interface {
	Now() time.Time
	// NewTimer creates a Timer that sends the current time on its channel
	// after at least d has elapsed.
	NewTimer(d time.Duration) Timer
}

// Timer represents a timer that can be stopped and provides a channel.
type Timer interface {
	// Stop prevents the Timer from firing. Returns true if the call stops
	// the timer, false if it already fired or was stopped.
	Stop() bool
	C() <-chan time.Time
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }

// NewTimer creates a new time.Timer.
func (RealClock) NewTimer(d time.Duration) Timer {
	return &realTimer{timer: time.NewTimer(d)}
}

type realTimer struct {
	timer *time.Timer
}

func (t *realTimer) Stop() bool          { return t.timer.Stop() }
func (t *realTimer) C() <-chan time.Time { return t.timer.C }

// Delay blocks until d has fully elapsed on clock and returns the instant it
// fired. There is deliberately no way to abort it.
func Delay(clock Clock, d time.Duration) time.Time {
	if clock == nil {
		clock = RealClock{}
	}
	t := clock.NewTimer(d)
	return <-t.C()
}

// After runs fn on its own goroutine once d has elapsed on clock.
// The returned channel closes after fn returns.
func After(clock Clock, d time.Duration, fn func(fired time.Time)) <-chan struct{} {
	done := make(chan struct{})
	if clock == nil {
		clock = RealClock{}
	}
	t := clock.NewTimer(d)
	go func() {
		defer close(done)
		fn(<-t.C())
	}()
	return done
}
