// File: core/concurrency/group.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EventLoopGroup owns a fixed set of loops and hands them out round-robin.

package concurrency

import (
	"context"
	"runtime"

	"code.hybscloud.com/atomix"
)

// EventLoopGroup is a fixed pool of started event loops.
type EventLoopGroup struct {
	loops []*EventLoop
	next  atomix.Uint32
}

// NewEventLoopGroup creates and starts n loops; n <= 0 means one per CPU.
func NewEventLoopGroup(n int, opts ...Option) *EventLoopGroup {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	g := &EventLoopGroup{loops: make([]*EventLoop, n)}
	for i := range g.loops {
		loopOpts := append(append([]Option{}, opts...), withIndex(i))
		el := NewEventLoop(loopOpts...)
		el.Start()
		g.loops[i] = el
	}
	return g
}

// Next returns the next loop in round-robin order.
func (g *EventLoopGroup) Next() *EventLoop {
	i := g.next.Add(1) - 1
	return g.loops[int(i%uint32(len(g.loops)))]
}

// Loops returns the loops of the group.
func (g *EventLoopGroup) Loops() []*EventLoop { return g.loops }

// Len returns the number of loops.
func (g *EventLoopGroup) Len() int { return len(g.loops) }

// Shutdown stops every loop.
func (g *EventLoopGroup) Shutdown() {
	for _, el := range g.loops {
		el.Shutdown()
	}
}

// AwaitTermination waits for every loop to exit.
func (g *EventLoopGroup) AwaitTermination(ctx context.Context) error {
	for _, el := range g.loops {
		if err := el.AwaitTermination(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ShutdownGracefully stops the group and waits for termination.
func (g *EventLoopGroup) ShutdownGracefully(ctx context.Context) error {
	g.Shutdown()
	return g.AwaitTermination(ctx)
}
