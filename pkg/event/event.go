// Package event provides the single execution context every protocol state
// machine runs on: posted callbacks and one-shot timers, never concurrently.
package event

import "time"

// Timer is a pending one-shot callback.
type Timer interface {
	// Stop cancels the timer. After Stop returns the callback is guaranteed not
	// to run. It reports whether the call prevented the callback from running.
	Stop() bool
}

// Scheduler serializes callbacks onto one execution context.
type Scheduler interface {
	// Now returns the scheduler's notion of the current time.
	Now() time.Time
	// Post queues fn to run on the execution context. It is safe to call
	// from any goroutine.
	Post(fn func())
	// After runs fn on the execution context once d has elapsed.
	After(d time.Duration, fn func()) Timer
}

// Stop stops t if it is non-nil. It is a convenience for optional timers.
func Stop(t Timer) {
	if t != nil {
		t.Stop()
	}
}
