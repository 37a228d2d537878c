// File: channel/handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Handler capabilities. A handler declares what it can process by the
// interfaces it implements; the pipeline only dispatches an event to
// contexts whose handler implements the matching interface.

package channel

import (
	"net"
	"reflect"
	"sync/atomic"

	"github.com/momentics/hioload-pipeline/buffer"
	"github.com/momentics/hioload-pipeline/core/future"
)

// Handler is the base contract of every pipeline element.
type Handler interface {
	// Clone returns the handler itself when it may be shared between
	// pipelines, or a fresh instance otherwise.
	Clone() Handler
}

// LifecycleHandler observes insertion and removal.
type LifecycleHandler interface {
	BeforeAdd(ctx *HandlerContext)
	AfterAdd(ctx *HandlerContext)
	BeforeRemove(ctx *HandlerContext)
	AfterRemove(ctx *HandlerContext)
}

// StateHandler receives channel state transitions.
type StateHandler interface {
	ChannelOpen(ctx *HandlerContext) error
	ChannelActive(ctx *HandlerContext) error
	ChannelInactive(ctx *HandlerContext) error
}

// ExceptionHandler receives errors raised further up the pipeline.
type ExceptionHandler interface {
	ExceptionCaught(ctx *HandlerContext, err error) error
}

// UserEventHandler receives application defined events.
type UserEventHandler interface {
	UserEventTriggered(ctx *HandlerContext, evt any) error
}

// InboundMessageHandler consumes decoded inbound messages.
type InboundMessageHandler interface {
	MessageReceived(ctx *HandlerContext, msg any) error
}

// InboundBufferHandler consumes raw inbound bytes.
type InboundBufferHandler interface {
	BufferReceived(ctx *HandlerContext, buf buffer.Buffer) error
}

// OutboundMessageHandler intercepts outbound messages.
type OutboundMessageHandler interface {
	Write(ctx *HandlerContext, msg any, f *future.Future) error
}

// OutboundBufferHandler intercepts outbound bytes.
type OutboundBufferHandler interface {
	WriteBuffer(ctx *HandlerContext, buf buffer.Buffer, f *future.Future) error
}

// FlushHandler intercepts flush requests.
type FlushHandler interface {
	Flush(ctx *HandlerContext) error
}

// OperationHandler intercepts outbound channel operations.
type OperationHandler interface {
	Bind(ctx *HandlerContext, local net.Addr, f *future.Future) error
	Connect(ctx *HandlerContext, remote, local net.Addr, f *future.Future) error
	Disconnect(ctx *HandlerContext, f *future.Future) error
	Close(ctx *HandlerContext, f *future.Future) error
}

// Capability is a bit set of the handler interfaces above.
type Capability uint16

const (
	CapLifecycle Capability = 1 << iota
	CapState
	CapException
	CapUserEvent
	CapInboundMessage
	CapInboundBuffer
	CapOutboundMessage
	CapOutboundBuffer
	CapFlush
	CapOperation
)

// capKinds is the number of capability bits.
const capKinds = 10

func (c Capability) Has(o Capability) bool { return c&o == o }

func (c Capability) index() int {
	for i := 0; i < capKinds; i++ {
		if c == 1<<i {
			return i
		}
	}
	return -1
}

// CapabilitiesOf computes the capability set of h.
func CapabilitiesOf(h Handler) Capability {
	var c Capability
	if _, ok := h.(LifecycleHandler); ok {
		c |= CapLifecycle
	}
	if _, ok := h.(StateHandler); ok {
		c |= CapState
	}
	if _, ok := h.(ExceptionHandler); ok {
		c |= CapException
	}
	if _, ok := h.(UserEventHandler); ok {
		c |= CapUserEvent
	}
	if _, ok := h.(InboundMessageHandler); ok {
		c |= CapInboundMessage
	}
	if _, ok := h.(InboundBufferHandler); ok {
		c |= CapInboundBuffer
	}
	if _, ok := h.(OutboundMessageHandler); ok {
		c |= CapOutboundMessage
	}
	if _, ok := h.(OutboundBufferHandler); ok {
		c |= CapOutboundBuffer
	}
	if _, ok := h.(FlushHandler); ok {
		c |= CapFlush
	}
	if _, ok := h.(OperationHandler); ok {
		c |= CapOperation
	}
	return c
}

// IsShareable reports whether h may be attached to several pipelines.
func IsShareable(h Handler) bool {
	return sameInstance(h.Clone(), h)
}

func sameInstance(a, b Handler) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if !va.IsValid() || !vb.IsValid() || va.Type() != vb.Type() {
		return false
	}
	if va.Kind() == reflect.Pointer {
		return va.Pointer() == vb.Pointer()
	}
	return va.Type().Comparable() && a == b
}

// addTracker is satisfied by handlers embedding HandlerBase.
type addTracker interface {
	markAdded() bool
	markRemoved()
}

// HandlerBase lets the pipeline detect a non-shareable handler that is being
// attached twice. Embed it by value in handler structs.
type HandlerBase struct {
	added atomic.Bool
}

func (b *HandlerBase) markAdded() bool { return b.added.CompareAndSwap(false, true) }
func (b *HandlerBase) markRemoved()    { b.added.Store(false) }

// Added reports whether the handler is currently attached to a pipeline.
func (b *HandlerBase) Added() bool { return b.added.Load() }
