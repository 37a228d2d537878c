// File: channel/embedded/executor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package embedded

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-pipeline/api"
)

// Executor is driven by the caller: every task runs inline and the caller's
// goroutine counts as the event loop. Scheduled tasks run only when Advance
// moves the virtual clock past their deadline.
type Executor struct {
	mu    sync.Mutex
	now   time.Time
	timed []*timedTask
}

// NewExecutor creates an inline executor starting at the zero time.
func NewExecutor() *Executor { return &Executor{now: time.Unix(0, 0)} }

func (e *Executor) Execute(task func()) error {
	task()
	return nil
}

func (e *Executor) InEventLoop() bool { return true }

func (e *Executor) Now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *Executor) Schedule(delay time.Duration, fn func()) (api.Cancelable, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := &timedTask{at: e.now.Add(delay), fn: fn, done: make(chan struct{})}
	e.timed = append(e.timed, t)
	return t, nil
}

// Advance moves time forward and runs tasks that became due, in deadline order.
func (e *Executor) Advance(d time.Duration) {
	e.mu.Lock()
	e.now = e.now.Add(d)
	now := e.now
	e.mu.Unlock()
	for {
		t := e.popDue(now)
		if t == nil {
			return
		}
		t.fn()
	}
}

func (e *Executor) popDue(now time.Time) *timedTask {
	e.mu.Lock()
	defer e.mu.Unlock()
	best := -1
	for i, t := range e.timed {
		if t.cancelled.Load() || t.at.After(now) {
			continue
		}
		if best < 0 || t.at.Before(e.timed[best].at) {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	t := e.timed[best]
	e.timed = append(e.timed[:best], e.timed[best+1:]...)
	close(t.done)
	return t
}

// Pending returns the number of scheduled tasks not yet run or cancelled.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, t := range e.timed {
		if !t.cancelled.Load() {
			n++
		}
	}
	return n
}

var _ api.Executor = (*Executor)(nil)

type timedTask struct {
	at        time.Time
	fn        func()
	cancelled atomic.Bool
	done      chan struct{}
}

func (t *timedTask) Cancel() error {
	t.cancelled.Store(true)
	return nil
}

func (t *timedTask) Done() <-chan struct{} { return t.done }
func (t *timedTask) Err() error            { return nil }
