// Package timer provides the single-shot retransmission timer used by the
// protocol loop. Expiry is never delivered asynchronously: the owner polls
// Expired at one well-defined point per loop iteration.
package timer

import "time"

// Timer is a cancelable one-shot countdown. At most one countdown is armed at
// a time; arming replaces the previous one. It is owned by a single goroutine
// and is not safe for concurrent use.
type Timer struct {
	now      func() time.Time
	deadline time.Time
	armed    bool
}

// New creates a disarmed timer backed by the wall (monotonic) clock.
func New() *Timer {
	return NewWithClock(time.Now)
}

// NewWithClock creates a disarmed timer that reads time from now.
func NewWithClock(now func() time.Time) *Timer {
	return &Timer{now: now}
}

// Arm schedules an expiry d from now, replacing any pending one.
// A zero (or negative) duration disarms the timer.
func (t *Timer) Arm(d time.Duration) {
	if d <= 0 {
		t.Disarm()
		return
	}
	t.deadline = t.now().Add(d)
	t.armed = true
}

// Disarm cancels the pending expiry, if any.
func (t *Timer) Disarm() {
	t.armed = false
	t.deadline = time.Time{}
}

// Expired reports whether the armed countdown has elapsed. A true result
// consumes the expiry, so each arming yields true at most once.
func (t *Timer) Expired() bool {
	if !t.armed || t.now().Before(t.deadline) {
		return false
	}
	t.Disarm()
	return true
}

// Armed reports whether a countdown is pending.
func (t *Timer) Armed() bool {
	return t.armed
}

// Deadline returns the pending expiry time, or the zero time when disarmed.
func (t *Timer) Deadline() time.Time {
	return t.deadline
}
