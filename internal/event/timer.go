package event

import (
	"sync"
	"time"
)

// Timer is the single duty-cycle timer. Each expiry raises TimerExpiry on
// the Signal it was created with.
type Timer struct {
	signal *Signal

	mu       sync.Mutex
	t        *time.Timer
	gen      uint64 // bumped on every Arm/Stop; stale callbacks compare and bail
	period   time.Duration
	deadline time.Time
	armed    bool
}

// NewTimer creates an idle timer posting to s.
func NewTimer(s *Signal) *Timer {
	return &Timer{signal: s}
}

// Arm schedules an expiry after initial. A non-zero period re-schedules
// automatically after each expiry; zero fires once. Any previous schedule
// is discarded.
func (t *Timer) Arm(initial, period time.Duration) {
	if initial < 0 {
		initial = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked()
	t.gen++
	t.period = period
	t.deadline = time.Now().Add(initial)
	t.armed = true
	gen := t.gen
	t.t = time.AfterFunc(initial, func() { t.fire(gen) })
}

// Stop cancels any pending expiry. No-op when idle.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
	t.gen++
	t.armed = false
	t.deadline = time.Time{}
}

// Armed reports whether an expiry is pending.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

// Deadline returns the next scheduled expiry, or the zero time when idle.
func (t *Timer) Deadline() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline
}

// Period returns the repeat period of the current schedule.
func (t *Timer) Period() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.period
}

func (t *Timer) cancelLocked() {
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	if t.period > 0 {
		// Next deadline is relative to the previous one so periodic runs
		// do not drift with callback latency.
		t.deadline = t.deadline.Add(t.period)
		t.t = time.AfterFunc(time.Until(t.deadline), func() { t.fire(gen) })
	} else {
		t.t = nil
		t.armed = false
		t.deadline = time.Time{}
	}
	t.mu.Unlock()

	t.signal.Set(TimerExpiry)
}
