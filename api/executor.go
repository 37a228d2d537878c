// Package api
// Author: momentics
//
// Executor contract for serial task dispatch and event loop integration.

package api

// Executor is a serial task runner. Tasks submitted through Execute run one
// at a time, in submission order per producer, on the executor's own goroutine.
type Executor interface {
	Scheduler

	// Execute queues task for execution.
	Execute(task func()) error

	// InEventLoop reports whether the calling goroutine is the executor's.
	InEventLoop() bool
}
