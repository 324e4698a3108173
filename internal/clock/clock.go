// Package clock lets timer-driven code run against either wall time or a
// fake clock that only moves when a test advances it.
//
// Subscriptions arm their heartbeat, reconnect and polling timers through
// a Clock so tests can step through a thirty second heartbeat timeout
// without sleeping.
package clock

import "time"

// Clock is the subset of the time package the progress client needs.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f on its own goroutine (Real) or synchronously
	// inside Advance (Fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop reports whether the call was prevented. A false return means
	// f already ran or is running.
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
