// Package api
// Author: momentics@gmail.com
//
// Cancellation handle for scheduled work.

package api

// Cancelable is a pending operation that may be aborted.
type Cancelable interface {
	// Cancel aborts the operation if it has not run yet.
	Cancel() error
	// Done is closed once the operation ran or was canceled.
	Done() <-chan struct{}
	// Err returns the cancellation reason, if any.
	Err() error
}
