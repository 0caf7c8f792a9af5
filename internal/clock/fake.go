package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced clock and scheduler for tests.
// Params: start time and pending deferred calls.
// Returns: deterministic Clock and Scheduler implementation.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	pending []*fakeTimer
}

type fakeTimer struct {
	owner   *Fake
	seq     int
	due     time.Time
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

// NewFake creates fake clock positioned at start.
// Params: initial time.
// Returns: fake clock.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns fake current time.
// Params: none.
// Returns: current fake timestamp.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// AfterFunc registers fn to run once the fake clock reaches now+delay.
// Params: delay and callback.
// Returns: cancelable fake timer.
func (f *Fake) AfterFunc(delay time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	timer := &fakeTimer{owner: f, seq: f.seq, due: f.now.Add(delay), delay: delay, fn: fn}
	f.pending = append(f.pending, timer)
	return timer
}

// Stop cancels timer when it has not fired yet.
// Params: none.
// Returns: true when the pending call was canceled.
func (t *fakeTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward and runs due callbacks in due order.
// Params: duration to advance.
// Returns: number of callbacks executed.
func (f *Fake) Advance(d time.Duration) int {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
	return f.runDue()
}

// Set moves the clock to an absolute time without running callbacks.
// Params: target time.
// Returns: none.
func (f *Fake) Set(now time.Time) {
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}

// PendingDelays lists delays of timers that are neither stopped nor fired.
// Params: none.
// Returns: delays in registration order.
func (f *Fake) PendingDelays() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, 0, len(f.pending))
	for _, timer := range f.pending {
		if timer.stopped || timer.fired {
			continue
		}
		out = append(out, timer.delay)
	}
	return out
}

func (f *Fake) runDue() int {
	executed := 0
	for {
		f.mu.Lock()
		due := make([]*fakeTimer, 0)
		live := f.pending[:0]
		for _, timer := range f.pending {
			if timer.stopped || timer.fired {
				continue
			}
			if !timer.due.After(f.now) {
				timer.fired = true
				due = append(due, timer)
				continue
			}
			live = append(live, timer)
		}
		f.pending = live
		f.mu.Unlock()

		if len(due) == 0 {
			return executed
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].due.Equal(due[j].due) {
				return due[i].seq < due[j].seq
			}
			return due[i].due.Before(due[j].due)
		})
		for _, timer := range due {
			timer.fn()
			executed++
		}
	}
}
