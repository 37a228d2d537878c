// File: core/future/future.go
// Package future implements single-assignment completion handles for
// asynchronous channel operations.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package future

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Listener is invoked exactly once when the future completes.
type Listener func(f *Future)

type state uint8

const (
	statePending state = iota
	stateSuccess
	stateFailure
)

// Future is pending until exactly one of SetSuccess or SetFailure wins.
// Listeners registered before completion fire in registration order on the
// completing goroutine; listeners added afterwards fire immediately on the
// caller's goroutine.
type Future struct {
	mu        sync.Mutex
	owner     fmt.Stringer
	done      chan struct{}
	state     state
	value     any
	err       error
	listeners []Listener
	void      bool
}

// New creates a pending future owned by owner (typically a channel).
func New(owner fmt.Stringer) *Future {
	return &Future{owner: owner, done: make(chan struct{})}
}

// Succeeded returns a future already completed with value.
func Succeeded(owner fmt.Stringer, value any) *Future {
	f := New(owner)
	f.SetSuccess(value)
	return f
}

// Failed returns a future already completed with err.
func Failed(owner fmt.Stringer, err error) *Future {
	f := New(owner)
	f.SetFailure(err)
	return f
}

var voidFuture = &Future{done: make(chan struct{}), void: true}

// Void returns the shared sentinel used when the caller does not care about
// the outcome. Completing it is a no-op and listeners are never invoked.
func Void() *Future { return voidFuture }

// IsVoid reports whether f is the void sentinel.
func (f *Future) IsVoid() bool { return f.void }

// Owner returns the object the operation belongs to.
func (f *Future) Owner() fmt.Stringer { return f.owner }

// SetSuccess completes f with value. It returns false if f was already done.
func (f *Future) SetSuccess(value any) bool {
	return f.complete(stateSuccess, value, nil)
}

// SetFailure completes f with err. It returns false if f was already done.
func (f *Future) SetFailure(err error) bool {
	if err == nil {
		err = errUnknownFailure
	}
	return f.complete(stateFailure, nil, err)
}

var errUnknownFailure = fmt.Errorf("future failed without cause")

func (f *Future) complete(st state, value any, err error) bool {
	if f.void {
		return false
	}
	f.mu.Lock()
	if f.state != statePending {
		f.mu.Unlock()
		return false
	}
	f.state, f.value, f.err = st, value, err
	ls := f.listeners
	f.listeners = nil
	close(f.done)
	f.mu.Unlock()

	for _, l := range ls {
		f.notify(l)
	}
	return true
}

func (f *Future) notify(l Listener) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("future: listener panicked", "owner", f.ownerName(), "panic", r)
		}
	}()
	l(f)
}

func (f *Future) ownerName() string {
	if f.owner == nil {
		return ""
	}
	return f.owner.String()
}

// AddListener registers l. It returns f for chaining.
func (f *Future) AddListener(l Listener) *Future {
	if f.void || l == nil {
		return f
	}
	f.mu.Lock()
	if f.state == statePending {
		f.listeners = append(f.listeners, l)
		f.mu.Unlock()
		return f
	}
	f.mu.Unlock()
	f.notify(l)
	return f
}

// IsDone reports whether f has completed.
func (f *Future) IsDone() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state != statePending
}

// IsSuccess reports whether f completed successfully.
func (f *Future) IsSuccess() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == stateSuccess
}

// Err returns the failure cause, or nil while pending or on success.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Value returns the success value.
func (f *Future) Value() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// Done is closed when f completes. It is never closed for the void future.
func (f *Future) Done() <-chan struct{} { return f.done }

// Await blocks until f completes or ctx ends, then returns the failure cause.
// Awaiting the void future returns immediately.
func (f *Future) Await(ctx context.Context) error {
	if f.void {
		return nil
	}
	select {
	case <-f.done:
		return f.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AwaitUninterruptibly blocks until f completes and returns f.
func (f *Future) AwaitUninterruptibly() *Future {
	if !f.void {
		<-f.done
	}
	return f
}

func (f *Future) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.void:
		return "Future(void)"
	case f.state == stateSuccess:
		return "Future(success)"
	case f.state == stateFailure:
		return fmt.Sprintf("Future(failure: %v)", f.err)
	}
	return "Future(incomplete)"
}

// Cascade completes to with the outcome of from once from is done.
func Cascade(from, to *Future) {
	from.AddListener(func(f *Future) {
		if err := f.Err(); err != nil {
			to.SetFailure(err)
			return
		}
		to.SetSuccess(f.Value())
	})
}
