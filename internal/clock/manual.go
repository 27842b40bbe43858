package clock

import (
	"sync"
	"time"
)

// Manual is a controllable clock for deterministic scheduler tests. Timers
// created through After fire only when Advance moves the clock past their
// due time.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	due time.Time
	ch  chan time.Time
}

// NewManual constructs a Manual clock starting at the supplied time.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// After returns a channel that receives once the manual clock has advanced
// by at least d. A non-positive duration fires immediately.
func (m *Manual) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if d <= 0 {
		ch <- m.now
		return ch
	}
	m.timers = append(m.timers, &manualTimer{due: m.now.Add(d), ch: ch})
	return ch
}

// Advance moves time forward by d, firing every timer whose due time has been
// reached, and returns the new current time.
func (m *Manual) Advance(d time.Duration) time.Time {
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	remaining := m.timers[:0]
	for _, timer := range m.timers {
		if timer.due.After(m.now) {
			remaining = append(remaining, timer)
			continue
		}
		timer.ch <- timer.due
	}
	m.timers = remaining
	return m.now
}

// Pending returns the number of timers waiting for the clock to advance.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// WaitForTimers polls until at least n timers are registered or the real-time
// timeout expires. It lets tests synchronise with a scheduler goroutine that
// is about to block on After.
func (m *Manual) WaitForTimers(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if m.Pending() >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}
