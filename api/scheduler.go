// Package api
// Author: momentics
//
// Scheduler contract for timed jobs executed on an event loop.

package api

import "time"

// Scheduler abstracts timer scheduling for serial executors.
type Scheduler interface {
	// Schedule runs fn on the executor once delay has elapsed.
	Schedule(delay time.Duration, fn func()) (Cancelable, error)

	// Now returns the scheduler's notion of current time.
	Now() time.Time
}
