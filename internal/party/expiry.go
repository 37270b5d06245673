package party

import (
	"sync"
	"time"
)

// ExpiryTimer holds at most one pending party expiry. Arming replaces the
// pending timer, and a replaced or canceled timer never runs its callback.
type ExpiryTimer struct {
	mu       sync.Mutex
	timer    *time.Timer
	deadline time.Time
}

// Arm schedules fn after d, replacing any pending expiry.
func (e *ExpiryTimer) Arm(d time.Duration, fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.timer != nil {
		e.timer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		e.mu.Lock()
		// A timer replaced after Stop lost the race can still fire.
		if e.timer != timer {
			e.mu.Unlock()
			return
		}
		e.timer = nil
		e.deadline = time.Time{}
		e.mu.Unlock()

		fn()
	})
	e.timer = timer
	e.deadline = time.Now().Add(d)
}

// Cancel stops the pending expiry. It reports whether one was pending and
// is safe to call any number of times from any goroutine.
func (e *ExpiryTimer) Cancel() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.timer == nil {
		return false
	}
	e.timer.Stop()
	e.timer = nil
	e.deadline = time.Time{}
	return true
}

// Active reports whether an expiry is pending.
func (e *ExpiryTimer) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timer != nil
}

// Deadline returns when the pending expiry fires.
func (e *ExpiryTimer) Deadline() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deadline, e.timer != nil
}
