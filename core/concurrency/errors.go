// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for concurrency module.

package concurrency

import "errors"

var (
	// ErrExecutorClosed indicates the event loop has been shut down
	ErrExecutorClosed = errors.New("executor is closed")

	// ErrTaskCompleted is returned when cancelling a task that already ran
	ErrTaskCompleted = errors.New("task already completed")
)
