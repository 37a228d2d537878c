// File: channel/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// HandlerContext binds a handler to its pipeline position and executor.
// Inbound events travel toward the tail, outbound operations toward the
// head. Each context holds precomputed pointers to the nearest neighbour of
// every capability, so dispatch skips handlers that cannot process an event.

package channel

import (
	"log/slog"
	"math/bits"
	"net"
	"sync/atomic"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/buffer"
	"github.com/momentics/hioload-pipeline/core/future"
)

// contextLinks is an immutable snapshot published on every pipeline change.
type contextLinks struct {
	next [capKinds]*HandlerContext
	prev [capKinds]*HandlerContext
}

// HandlerContext is the handler's view of the pipeline.
type HandlerContext struct {
	name     string
	pipeline *Pipeline
	handler  Handler
	executor api.Executor
	caps     Capability

	// prev and next are guarded by pipeline.mu.
	prev, next *HandlerContext
	links      atomic.Pointer[contextLinks]
	removed    atomic.Bool
	attachment atomic.Value

	lifecycle LifecycleHandler
	state     StateHandler
	exception ExceptionHandler
	userEvent UserEventHandler
	inMessage InboundMessageHandler
	inBuffer  InboundBufferHandler
	outMsg    OutboundMessageHandler
	outBuffer OutboundBufferHandler
	flusher   FlushHandler
	ops       OperationHandler
}

func newContext(p *Pipeline, name string, h Handler, exec api.Executor) *HandlerContext {
	c := &HandlerContext{
		name:     name,
		pipeline: p,
		handler:  h,
		executor: exec,
		caps:     CapabilitiesOf(h),
	}
	c.lifecycle, _ = h.(LifecycleHandler)
	c.state, _ = h.(StateHandler)
	c.exception, _ = h.(ExceptionHandler)
	c.userEvent, _ = h.(UserEventHandler)
	c.inMessage, _ = h.(InboundMessageHandler)
	c.inBuffer, _ = h.(InboundBufferHandler)
	c.outMsg, _ = h.(OutboundMessageHandler)
	c.outBuffer, _ = h.(OutboundBufferHandler)
	c.flusher, _ = h.(FlushHandler)
	c.ops, _ = h.(OperationHandler)
	return c
}

func (c *HandlerContext) Name() string                          { return c.name }
func (c *HandlerContext) Handler() Handler                      { return c.handler }
func (c *HandlerContext) Pipeline() *Pipeline                   { return c.pipeline }
func (c *HandlerContext) Channel() *Channel                     { return c.pipeline.ch }
func (c *HandlerContext) Executor() api.Executor                { return c.executor }
func (c *HandlerContext) Capabilities() Capability              { return c.caps }
func (c *HandlerContext) IsRemoved() bool                       { return c.removed.Load() }
func (c *HandlerContext) Logger() *slog.Logger                  { return c.pipeline.logger }
func (c *HandlerContext) Attachment() any                       { return c.attachment.Load() }
func (c *HandlerContext) SetAttachment(v any)                   { c.attachment.Store(v) }
func (c *HandlerContext) NewFuture() *future.Future             { return future.New(c.pipeline.ch) }
func (c *HandlerContext) String() string                        { return "HandlerContext(" + c.name + ")" }
func (c *HandlerContext) inbound(k Capability) *HandlerContext  { return c.link(k, true) }
func (c *HandlerContext) outbound(k Capability) *HandlerContext { return c.link(k, false) }

func (c *HandlerContext) link(k Capability, next bool) *HandlerContext {
	l := c.links.Load()
	if l == nil {
		return nil
	}
	i := bits.TrailingZeros16(uint16(k))
	if next {
		return l.next[i]
	}
	return l.prev[i]
}

// execute runs fn inline on the context's executor, otherwise posts it.
func (c *HandlerContext) execute(fn func()) error {
	if c.executor.InEventLoop() {
		fn()
		return nil
	}
	return c.executor.Execute(fn)
}

func (c *HandlerContext) protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Handler: c.name, Value: r}
		}
	}()
	return fn()
}

// invoke runs a handler callback and routes its error into the exception path.
func (c *HandlerContext) invoke(fn func() error) {
	if err := c.protect(fn); err != nil {
		c.handleError(err)
	}
}

func (c *HandlerContext) handleError(err error) {
	if c.exception != nil {
		c.invokeExceptionCaught(err)
		return
	}
	c.FireExceptionCaught(err)
}

func (c *HandlerContext) invokeExceptionCaught(err error) {
	if e2 := c.protect(func() error { return c.exception.ExceptionCaught(c, err) }); e2 != nil {
		c.FireExceptionCaught(e2)
	}
}

func (c *HandlerContext) callLifecycle(fn func(LifecycleHandler, *HandlerContext)) error {
	if c.lifecycle == nil {
		return nil
	}
	return c.protect(func() error {
		fn(c.lifecycle, c)
		return nil
	})
}

func (c *HandlerContext) fireInbound(k Capability, call func(n *HandlerContext) error) {
	n := c.inbound(k)
	if n == nil {
		return
	}
	if err := n.execute(func() { n.invoke(func() error { return call(n) }) }); err != nil {
		c.pipeline.logger.Warn("inbound event dropped", "handler", n.name, "error", err)
	}
}

func (c *HandlerContext) FireChannelOpen() {
	c.fireInbound(CapState, func(n *HandlerContext) error { return n.state.ChannelOpen(n) })
}

func (c *HandlerContext) FireChannelActive() {
	c.fireInbound(CapState, func(n *HandlerContext) error { return n.state.ChannelActive(n) })
}

func (c *HandlerContext) FireChannelInactive() {
	c.fireInbound(CapState, func(n *HandlerContext) error { return n.state.ChannelInactive(n) })
}

func (c *HandlerContext) FireUserEventTriggered(evt any) {
	c.fireInbound(CapUserEvent, func(n *HandlerContext) error { return n.userEvent.UserEventTriggered(n, evt) })
}

func (c *HandlerContext) FireMessageReceived(msg any) {
	c.fireInbound(CapInboundMessage, func(n *HandlerContext) error { return n.inMessage.MessageReceived(n, msg) })
}

func (c *HandlerContext) FireBufferReceived(buf buffer.Buffer) {
	c.fireInbound(CapInboundBuffer, func(n *HandlerContext) error { return n.inBuffer.BufferReceived(n, buf) })
}

// FireExceptionCaught hands err to the next exception-capable handler.
func (c *HandlerContext) FireExceptionCaught(err error) {
	n := c.inbound(CapException)
	if n == nil {
		c.pipeline.logger.Warn("exception not handled", "handler", c.name, "error", err)
		return
	}
	if e := n.execute(func() { n.invokeExceptionCaught(err) }); e != nil {
		c.pipeline.logger.Warn("exception dropped", "handler", n.name, "error", err, "reason", e)
	}
}

// fireOutbound finds the previous context with capability k and runs call
// there. Handler failures complete f, or enter the exception path when f
// cannot carry them.
func (c *HandlerContext) fireOutbound(k Capability, f *future.Future, call func(p *HandlerContext) error) {
	p := c.outbound(k)
	if p == nil {
		c.failOutbound(f, pipelineErr("no outbound handler for %s", c.name))
		return
	}
	err := p.execute(func() {
		if err := p.protect(func() error { return call(p) }); err != nil {
			p.failOutbound(f, err)
		}
	})
	if err != nil {
		c.failOutbound(f, api.NewError(api.ErrCodeClosed, "executor rejected outbound operation").WithCause(err))
	}
}

func (c *HandlerContext) failOutbound(f *future.Future, err error) {
	if f != nil && f.SetFailure(err) {
		return
	}
	c.handleError(err)
}

// Write sends msg toward the head through outbound message handlers.
func (c *HandlerContext) Write(msg any) *future.Future {
	return c.WriteWith(msg, c.NewFuture())
}

// WriteWith is Write completing the caller supplied future.
func (c *HandlerContext) WriteWith(msg any, f *future.Future) *future.Future {
	c.fireOutbound(CapOutboundMessage, f, func(p *HandlerContext) error { return p.outMsg.Write(p, msg, f) })
	return f
}

// WriteBuffer sends buf toward the head through outbound buffer handlers.
func (c *HandlerContext) WriteBuffer(buf buffer.Buffer) *future.Future {
	return c.WriteBufferWith(buf, c.NewFuture())
}

func (c *HandlerContext) WriteBufferWith(buf buffer.Buffer, f *future.Future) *future.Future {
	c.fireOutbound(CapOutboundBuffer, f, func(p *HandlerContext) error { return p.outBuffer.WriteBuffer(p, buf, f) })
	return f
}

// Flush asks the transport to write everything queued so far.
func (c *HandlerContext) Flush() {
	c.fireOutbound(CapFlush, nil, func(p *HandlerContext) error { return p.flusher.Flush(p) })
}

// WriteAndFlush is Write followed by Flush.
func (c *HandlerContext) WriteAndFlush(msg any) *future.Future {
	f := c.Write(msg)
	c.Flush()
	return f
}

func (c *HandlerContext) Bind(local net.Addr) *future.Future {
	return c.BindWith(local, c.NewFuture())
}

func (c *HandlerContext) BindWith(local net.Addr, f *future.Future) *future.Future {
	c.fireOutbound(CapOperation, f, func(p *HandlerContext) error { return p.ops.Bind(p, local, f) })
	return f
}

func (c *HandlerContext) Connect(remote, local net.Addr) *future.Future {
	return c.ConnectWith(remote, local, c.NewFuture())
}

func (c *HandlerContext) ConnectWith(remote, local net.Addr, f *future.Future) *future.Future {
	c.fireOutbound(CapOperation, f, func(p *HandlerContext) error { return p.ops.Connect(p, remote, local, f) })
	return f
}

func (c *HandlerContext) Disconnect() *future.Future {
	return c.DisconnectWith(c.NewFuture())
}

func (c *HandlerContext) DisconnectWith(f *future.Future) *future.Future {
	c.fireOutbound(CapOperation, f, func(p *HandlerContext) error { return p.ops.Disconnect(p, f) })
	return f
}

// Close travels the outbound path so handlers can act before shutdown.
func (c *HandlerContext) Close() *future.Future {
	return c.CloseWith(c.NewFuture())
}

func (c *HandlerContext) CloseWith(f *future.Future) *future.Future {
	c.fireOutbound(CapOperation, f, func(p *HandlerContext) error { return p.ops.Close(p, f) })
	return f
}
