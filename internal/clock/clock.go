package clock

import "time"

// Clock provides current time abstraction for deterministic tests.
// Params: none.
// Returns: current wall-clock time.
type Clock interface {
	Now() time.Time
}

// Timer is a cancelable handle for one deferred call.
// Params: none.
// Returns: Stop reports whether the call was prevented from running.
type Timer interface {
	Stop() bool
}

// Scheduler defers function calls by a delay.
// Params: delay and callback.
// Returns: cancelable handle for the pending call.
type Scheduler interface {
	AfterFunc(delay time.Duration, fn func()) Timer
}

// RealClock reads current UTC time from system clock and schedules with runtime timers.
// Params: none.
// Returns: wall-clock and timer implementation.
type RealClock struct{}

// Now returns current UTC time.
// Params: none.
// Returns: current UTC timestamp.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// AfterFunc runs fn on its own goroutine after delay.
// Params: delay and callback.
// Returns: runtime timer handle.
func (RealClock) AfterFunc(delay time.Duration, fn func()) Timer {
	return time.AfterFunc(delay, fn)
}

// Timekeeper reads time and schedules deferred calls.
type Timekeeper interface {
	Clock
	Scheduler
}
