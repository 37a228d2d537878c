// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"context"
	"sync/atomic"

	"github.com/benbjohnson/clock"
)

const (
	taskPending int32 = iota
	taskRan
	taskCancelled
)

// scheduledTask is the Cancelable returned by EventLoop.Schedule.
type scheduledTask struct {
	loop  *EventLoop
	fn    func()
	timer *clock.Timer
	done  chan struct{}
	state atomic.Int32
	err   error
}

// fire runs on the clock's goroutine and hands the task to the loop.
func (st *scheduledTask) fire() {
	if err := st.loop.Execute(st.run); err != nil {
		st.finish(taskCancelled, err)
	}
}

func (st *scheduledTask) run() {
	if st.finish(taskRan, nil) {
		st.fn()
	}
}

func (st *scheduledTask) finish(to int32, err error) bool {
	if !st.state.CompareAndSwap(taskPending, to) {
		return false
	}
	st.err = err
	close(st.done)
	return true
}

func (st *scheduledTask) Cancel() error {
	if st.finish(taskCancelled, context.Canceled) {
		st.timer.Stop()
		return nil
	}
	if st.state.Load() == taskRan {
		return ErrTaskCompleted
	}
	return nil
}

func (st *scheduledTask) Done() <-chan struct{} { return st.done }

// Err returns nil for a task that ran, otherwise why it did not.
func (st *scheduledTask) Err() error {
	select {
	case <-st.done:
		return st.err
	default:
		return nil
	}
}
