// File: core/concurrency/eventloop.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EventLoop is a serial executor owning one goroutine. Foreign producers
// publish through a bounded lock-free MPSC queue and a wake channel; tasks
// posted from the loop itself go to a local FIFO that never needs waking.
// Timed tasks are armed on a pluggable clock and re-enter through Execute.

package concurrency

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
	"github.com/benbjohnson/clock"
	"github.com/eapache/queue"

	"github.com/momentics/hioload-pipeline/affinity"
	"github.com/momentics/hioload-pipeline/api"
)

type task = func()

// mpscQueue is the subset of the lfq queue contract the loop relies on.
type mpscQueue interface {
	Enqueue(elem *task) error
	Dequeue() (task, error)
}

const (
	stateNotStarted int32 = iota
	stateRunning
	stateShuttingDown
	stateTerminated
)

const (
	defaultQueueCapacity = 4096
	defaultBatchSize     = 256
)

// Option configures an EventLoop.
type Option func(*config)

type config struct {
	name          string
	queueCapacity int
	batchSize     int
	clock         clock.Clock
	logger        *slog.Logger
	cpu           int
	spread        bool
	index         int
	grouped       bool
}

// WithName labels the loop in logs.
func WithName(name string) Option { return func(c *config) { c.name = name } }

// WithQueueCapacity bounds the foreign task queue. Producers back off when full.
func WithQueueCapacity(n int) Option { return func(c *config) { c.queueCapacity = n } }

// WithBatchSize limits how many foreign tasks run before local tasks get a turn.
func WithBatchSize(n int) Option { return func(c *config) { c.batchSize = n } }

// WithClock replaces the wall clock used for scheduled tasks.
func WithClock(clk clock.Clock) Option { return func(c *config) { c.clock = clk } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// WithCPU pins the loop's OS thread to cpu.
func WithCPU(cpu int) Option { return func(c *config) { c.cpu = cpu } }

// WithPinning pins the loops of a group round-robin over the available CPUs.
func WithPinning() Option { return func(c *config) { c.spread = true } }

func withIndex(i int) Option {
	return func(c *config) { c.index, c.grouped = i, true }
}

// EventLoop implements api.Executor.
type EventLoop struct {
	name     string
	incoming mpscQueue
	local    *queue.Queue
	wake     chan struct{}
	quit     chan struct{}
	done     chan struct{}
	batch    int
	cpu      int
	clock    clock.Clock
	logger   *slog.Logger

	state     atomic.Int32
	goid      atomic.Int64
	producers atomic.Int64
	pending   atomic.Int64
	executed  atomic.Uint64
}

// NewEventLoop creates a loop. Call Start to launch its goroutine; tasks
// submitted before that are kept until it runs.
func NewEventLoop(opts ...Option) *EventLoop {
	cfg := config{
		queueCapacity: defaultQueueCapacity,
		batchSize:     defaultBatchSize,
		cpu:           -1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.name == "" {
		cfg.name = "loop"
	}
	if cfg.grouped {
		cfg.name = fmt.Sprintf("%s-%d", cfg.name, cfg.index)
	}
	if cfg.clock == nil {
		cfg.clock = clock.New()
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.spread && cfg.cpu < 0 {
		cfg.cpu = cfg.index % runtime.NumCPU()
	}
	return &EventLoop{
		name:     cfg.name,
		incoming: lfq.BuildMPSC[task](lfq.New(max(cfg.queueCapacity, 2)).SingleConsumer().Compact()),
		local:    queue.New(),
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		batch:    max(cfg.batchSize, 1),
		cpu:      cfg.cpu,
		clock:    cfg.clock,
		logger:   cfg.logger.With("loop", cfg.name),
	}
}

// Name returns the loop label.
func (el *EventLoop) Name() string { return el.name }

func (el *EventLoop) String() string { return el.name }

// Start launches the loop goroutine. Extra calls are no-ops.
func (el *EventLoop) Start() {
	if el.state.CompareAndSwap(stateNotStarted, stateRunning) {
		go el.run()
	}
}

// InEventLoop reports whether the caller runs on the loop goroutine.
func (el *EventLoop) InEventLoop() bool {
	id := el.goid.Load()
	return id != 0 && id == currentGoroutineID()
}

// Execute queues t. From the loop goroutine the task is appended to the
// local FIFO and runs after the current task returns.
func (el *EventLoop) Execute(t func()) error {
	if t == nil {
		return api.NewError(api.ErrCodeInvalidArgument, "nil task")
	}
	if el.InEventLoop() {
		el.local.Add(t)
		return nil
	}
	el.producers.Add(1)
	defer el.producers.Add(-1)
	if el.state.Load() >= stateShuttingDown {
		return ErrExecutorClosed
	}
	var bo iox.Backoff
	for {
		err := el.incoming.Enqueue(&t)
		if err == nil {
			break
		}
		if !iox.IsWouldBlock(err) {
			return err
		}
		bo.Wait()
	}
	el.pending.Add(1)
	select {
	case el.wake <- struct{}{}:
	default:
	}
	return nil
}

// Now returns the loop clock's current time.
func (el *EventLoop) Now() time.Time { return el.clock.Now() }

// Schedule runs fn on the loop once delay has elapsed on the loop clock.
func (el *EventLoop) Schedule(delay time.Duration, fn func()) (api.Cancelable, error) {
	if fn == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "nil task")
	}
	if el.state.Load() >= stateShuttingDown {
		return nil, ErrExecutorClosed
	}
	st := &scheduledTask{loop: el, fn: fn, done: make(chan struct{})}
	st.timer = el.clock.AfterFunc(delay, st.fire)
	return st, nil
}

func (el *EventLoop) run() {
	defer close(el.done)
	if el.cpu >= 0 {
		if err := affinity.Pin(el.cpu); err != nil {
			el.logger.Warn("cpu pinning failed", "cpu", el.cpu, "error", err)
		}
	}
	el.goid.Store(currentGoroutineID())
	defer el.goid.Store(0)

	for {
		el.drain()
		if el.state.Load() >= stateShuttingDown {
			for el.producers.Load() > 0 {
				el.drain()
				runtime.Gosched()
			}
			el.drain()
			el.state.Store(stateTerminated)
			return
		}
		select {
		case <-el.wake:
		case <-el.quit:
		}
	}
}

// drain runs queued tasks until both queues are empty.
func (el *EventLoop) drain() {
	for {
		n := 0
		for n < el.batch {
			t, err := el.incoming.Dequeue()
			if err != nil {
				break
			}
			el.pending.Add(-1)
			el.safeExecute(t)
			n++
		}
		for l := el.local.Length(); l > 0; l-- {
			el.safeExecute(el.local.Remove().(task))
			n++
		}
		if n == 0 {
			return
		}
	}
}

func (el *EventLoop) safeExecute(t task) {
	defer func() {
		if r := recover(); r != nil {
			el.logger.Error("task panicked", "panic", r)
		}
	}()
	el.executed.Add(1)
	t()
}

// Shutdown stops accepting tasks. Already queued tasks still run.
func (el *EventLoop) Shutdown() {
	for {
		s := el.state.Load()
		if s >= stateShuttingDown {
			return
		}
		if el.state.CompareAndSwap(s, stateShuttingDown) {
			close(el.quit)
			if s == stateNotStarted {
				go el.run()
			}
			return
		}
	}
}

// IsShutdown reports whether Shutdown has been called.
func (el *EventLoop) IsShutdown() bool { return el.state.Load() >= stateShuttingDown }

// Terminated is closed once the loop goroutine exits.
func (el *EventLoop) Terminated() <-chan struct{} { return el.done }

// AwaitTermination blocks until the loop exits or ctx ends.
func (el *EventLoop) AwaitTermination(ctx context.Context) error {
	select {
	case <-el.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the approximate number of queued foreign tasks.
func (el *EventLoop) Pending() int64 { return el.pending.Load() }

// Executed returns how many tasks ran on the loop.
func (el *EventLoop) Executed() uint64 { return el.executed.Load() }

var _ api.Executor = (*EventLoop)(nil)
