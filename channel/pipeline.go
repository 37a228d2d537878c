// File: channel/pipeline.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pipeline is the ordered handler list of a channel, framed by a head
// sentinel that talks to the transport and a tail sentinel that absorbs
// unhandled inbound events.

package channel

import (
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/buffer"
	"github.com/momentics/hioload-pipeline/core/future"
)

const (
	headName = "#head"
	tailName = "#tail"
)

// AddOption customises a handler insertion.
type AddOption func(*addConfig)

type addConfig struct {
	executor api.Executor
}

// OnExecutor runs the handler's callbacks on exec instead of the channel loop.
func OnExecutor(exec api.Executor) AddOption {
	return func(c *addConfig) { c.executor = exec }
}

// Pipeline is safe for concurrent mutation. Event dispatch reads immutable
// link snapshots and never takes the lock.
type Pipeline struct {
	ch     *Channel
	logger *slog.Logger

	mu     sync.Mutex
	head   *HandlerContext
	tail   *HandlerContext
	byName map[string]*HandlerContext
}

func newPipeline(ch *Channel) *Pipeline {
	p := &Pipeline{
		ch:     ch,
		logger: ch.logger,
		byName: make(map[string]*HandlerContext),
	}
	p.head = newContext(p, headName, &headHandler{ch: ch}, ch.executor)
	p.tail = newContext(p, tailName, &tailHandler{}, ch.executor)
	p.head.next, p.tail.prev = p.tail, p.head
	p.relinkLocked()
	return p
}

// Channel returns the owning channel.
func (p *Pipeline) Channel() *Channel { return p.ch }

// AddFirst inserts h right after the head.
func (p *Pipeline) AddFirst(name string, h Handler, opts ...AddOption) error {
	return p.add(name, h, opts, func() (*HandlerContext, error) { return p.head, nil })
}

// AddLast inserts h right before the tail.
func (p *Pipeline) AddLast(name string, h Handler, opts ...AddOption) error {
	return p.add(name, h, opts, func() (*HandlerContext, error) { return p.tail.prev, nil })
}

// AddBefore inserts h in front of the handler named base.
func (p *Pipeline) AddBefore(base, name string, h Handler, opts ...AddOption) error {
	return p.add(name, h, opts, func() (*HandlerContext, error) {
		b, err := p.lookupLocked(base)
		if err != nil {
			return nil, err
		}
		return b.prev, nil
	})
}

// AddAfter inserts h behind the handler named base.
func (p *Pipeline) AddAfter(base, name string, h Handler, opts ...AddOption) error {
	return p.add(name, h, opts, func() (*HandlerContext, error) { return p.lookupLocked(base) })
}

func (p *Pipeline) lookupLocked(name string) (*HandlerContext, error) {
	c, ok := p.byName[name]
	if !ok {
		return nil, api.Errorf(api.ErrCodeNotFound, "no handler named %q", name)
	}
	return c, nil
}

// add runs BeforeAdd on the caller, splices the context after the one
// returned by locate and schedules AfterAdd on the context's executor.
func (p *Pipeline) add(name string, h Handler, opts []AddOption, locate func() (*HandlerContext, error)) error {
	if h == nil {
		return pipelineErr("nil handler %q", name)
	}
	if name == "" || name == headName || name == tailName {
		return pipelineErr("invalid handler name %q", name)
	}
	cfg := addConfig{executor: p.ch.executor}
	for _, opt := range opts {
		opt(&cfg)
	}

	p.mu.Lock()
	if _, dup := p.byName[name]; dup {
		p.mu.Unlock()
		return pipelineErr("duplicate handler name %q", name)
	}
	tracker, tracked := h.(addTracker)
	marked := tracked && tracker.markAdded()
	if tracked && !marked && !IsShareable(h) {
		p.mu.Unlock()
		return pipelineErr("handler %q is not shareable and already belongs to a pipeline", name)
	}
	p.mu.Unlock()
	undo := func() {
		if marked {
			tracker.markRemoved()
		}
	}

	ctx := newContext(p, name, h, cfg.executor)
	if err := ctx.callLifecycle(LifecycleHandler.BeforeAdd); err != nil {
		undo()
		return api.NewError(api.ErrCodePipelineConfig, "BeforeAdd failed for "+name).WithCause(err)
	}

	p.mu.Lock()
	if _, dup := p.byName[name]; dup {
		p.mu.Unlock()
		undo()
		return pipelineErr("duplicate handler name %q", name)
	}
	prev, err := locate()
	if err != nil {
		p.mu.Unlock()
		undo()
		return err
	}
	ctx.prev, ctx.next = prev, prev.next
	prev.next.prev = ctx
	prev.next = ctx
	p.byName[name] = ctx
	p.relinkLocked()
	p.mu.Unlock()

	afterAdd := func() {
		if err := ctx.callLifecycle(LifecycleHandler.AfterAdd); err != nil {
			ctx.handleError(err)
		}
	}
	if err := ctx.execute(afterAdd); err != nil {
		p.logger.Warn("AfterAdd not scheduled", "handler", name, "error", err)
	}
	return nil
}

// Remove detaches the handler named name. The name is released immediately;
// BeforeRemove, the unlink and AfterRemove run on the handler's executor.
func (p *Pipeline) Remove(name string) (Handler, error) {
	p.mu.Lock()
	ctx, err := p.lookupLocked(name)
	if err == nil {
		delete(p.byName, name)
	}
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	p.remove(ctx)
	return ctx.handler, nil
}

// RemoveHandler detaches h.
func (p *Pipeline) RemoveHandler(h Handler) error {
	ctx := p.ContextOf(h)
	if ctx == nil {
		return api.NewError(api.ErrCodeNotFound, "handler not in pipeline")
	}
	_, err := p.Remove(ctx.name)
	return err
}

// Replace swaps the handler named old for h registered as name.
func (p *Pipeline) Replace(old, name string, h Handler, opts ...AddOption) error {
	if err := p.AddAfter(old, name, h, opts...); err != nil {
		return err
	}
	_, err := p.Remove(old)
	return err
}

func (p *Pipeline) remove(ctx *HandlerContext) {
	if !ctx.removed.CompareAndSwap(false, true) {
		return
	}
	task := func() {
		if err := ctx.callLifecycle(LifecycleHandler.BeforeRemove); err != nil {
			p.logger.Warn("BeforeRemove failed", "handler", ctx.name, "error", err)
		}
		p.mu.Lock()
		ctx.prev.next = ctx.next
		ctx.next.prev = ctx.prev
		p.relinkLocked()
		p.mu.Unlock()
		if err := ctx.callLifecycle(LifecycleHandler.AfterRemove); err != nil {
			p.logger.Warn("AfterRemove failed", "handler", ctx.name, "error", err)
		}
		if t, ok := ctx.handler.(addTracker); ok {
			t.markRemoved()
		}
	}
	if err := ctx.execute(task); err != nil {
		task()
	}
}

// relinkLocked recomputes the nearest capable neighbours of every context.
func (p *Pipeline) relinkLocked() {
	var ctxs []*HandlerContext
	for c := p.head; c != nil; c = c.next {
		ctxs = append(ctxs, c)
	}
	links := make([]contextLinks, len(ctxs))
	var prev [capKinds]*HandlerContext
	for i, c := range ctxs {
		links[i].prev = prev
		for k := range capKinds {
			if c.caps&(1<<k) != 0 {
				prev[k] = c
			}
		}
	}
	var next [capKinds]*HandlerContext
	for i := len(ctxs) - 1; i >= 0; i-- {
		links[i].next = next
		for k := range capKinds {
			if ctxs[i].caps&(1<<k) != 0 {
				next[k] = ctxs[i]
			}
		}
	}
	for i, c := range ctxs {
		c.links.Store(&links[i])
	}
}

// Get returns the handler named name, or nil.
func (p *Pipeline) Get(name string) Handler {
	if c := p.Context(name); c != nil {
		return c.handler
	}
	return nil
}

// Context returns the context named name, or nil.
func (p *Pipeline) Context(name string) *HandlerContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.byName[name]
}

// ContextOf returns the context holding h, or nil.
func (p *Pipeline) ContextOf(h Handler) *HandlerContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	for c := p.head.next; c != p.tail; c = c.next {
		if !c.removed.Load() && sameInstance(c.handler, h) {
			return c
		}
	}
	return nil
}

// Names lists the attached handlers from head to tail.
func (p *Pipeline) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var names []string
	for c := p.head.next; c != p.tail; c = c.next {
		if !c.removed.Load() {
			names = append(names, c.name)
		}
	}
	return names
}

// First returns the handler closest to the head, or nil.
func (p *Pipeline) First() Handler {
	p.mu.Lock()
	defer p.mu.Unlock()
	for c := p.head.next; c != p.tail; c = c.next {
		if !c.removed.Load() {
			return c.handler
		}
	}
	return nil
}

// Last returns the handler closest to the tail, or nil.
func (p *Pipeline) Last() Handler {
	p.mu.Lock()
	defer p.mu.Unlock()
	for c := p.tail.prev; c != p.head; c = c.prev {
		if !c.removed.Load() {
			return c.handler
		}
	}
	return nil
}

func (p *Pipeline) String() string {
	return "Pipeline{" + strings.Join(p.Names(), ", ") + "}"
}

// Inbound entry points start at the head.

func (p *Pipeline) FireChannelOpen()              { p.head.FireChannelOpen() }
func (p *Pipeline) FireChannelActive()            { p.head.FireChannelActive() }
func (p *Pipeline) FireChannelInactive()          { p.head.FireChannelInactive() }
func (p *Pipeline) FireExceptionCaught(err error) { p.head.FireExceptionCaught(err) }
func (p *Pipeline) FireUserEventTriggered(evt any) {
	p.head.FireUserEventTriggered(evt)
}
func (p *Pipeline) FireMessageReceived(msg any)          { p.head.FireMessageReceived(msg) }
func (p *Pipeline) FireBufferReceived(buf buffer.Buffer) { p.head.FireBufferReceived(buf) }

// Outbound entry points start at the tail.

func (p *Pipeline) Write(msg any) *future.Future { return p.tail.Write(msg) }
func (p *Pipeline) WriteWith(msg any, f *future.Future) *future.Future {
	return p.tail.WriteWith(msg, f)
}
func (p *Pipeline) WriteBuffer(buf buffer.Buffer) *future.Future { return p.tail.WriteBuffer(buf) }
func (p *Pipeline) Flush()                                       { p.tail.Flush() }
func (p *Pipeline) WriteAndFlush(msg any) *future.Future         { return p.tail.WriteAndFlush(msg) }
func (p *Pipeline) Bind(local net.Addr, f *future.Future) *future.Future {
	return p.tail.BindWith(local, f)
}
func (p *Pipeline) Connect(remote, local net.Addr, f *future.Future) *future.Future {
	return p.tail.ConnectWith(remote, local, f)
}
func (p *Pipeline) Disconnect(f *future.Future) *future.Future { return p.tail.DisconnectWith(f) }
func (p *Pipeline) Close(f *future.Future) *future.Future      { return p.tail.CloseWith(f) }
