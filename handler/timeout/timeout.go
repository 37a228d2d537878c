// File: handler/timeout/timeout.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package timeout raises an error when a channel has not received anything
// for a configured period.
package timeout

import (
	"errors"
	"time"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/buffer"
	"github.com/momentics/hioload-pipeline/channel"
)

// ErrReadTimeout is delivered through ExceptionCaught when the read
// deadline passes.
var ErrReadTimeout = errors.New("read timed out")

const (
	stateNone = iota
	stateInitialized
	stateDestroyed
)

// ReadTimeoutHandler tracks the time of the last inbound read on the
// handler's executor. A deferred task checks the idle period; when it
// exceeds the timeout the handler fires ErrReadTimeout, invokes the
// optional callback and closes the channel once.
type ReadTimeoutHandler struct {
	channel.HandlerBase
	timeout  time.Duration
	onExpire func(ctx *channel.HandlerContext)

	state    int
	closed   bool
	lastRead time.Time
	task     api.Cancelable
}

// Option customises a ReadTimeoutHandler.
type Option func(*ReadTimeoutHandler)

// WithCallback runs fn when the read deadline passes, before the channel
// is closed.
func WithCallback(fn func(ctx *channel.HandlerContext)) Option {
	return func(h *ReadTimeoutHandler) { h.onExpire = fn }
}

// NewReadTimeoutHandler creates a handler closing channels idle for timeout.
func NewReadTimeoutHandler(timeout time.Duration, opts ...Option) (*ReadTimeoutHandler, error) {
	if timeout <= 0 {
		return nil, api.Errorf(api.ErrCodeInvalidArgument, "timeout must be positive: %v", timeout)
	}
	h := &ReadTimeoutHandler{timeout: timeout}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *ReadTimeoutHandler) Clone() channel.Handler {
	return &ReadTimeoutHandler{timeout: h.timeout, onExpire: h.onExpire}
}

// Timeout returns the configured idle period.
func (h *ReadTimeoutHandler) Timeout() time.Duration { return h.timeout }

func (h *ReadTimeoutHandler) BeforeAdd(ctx *channel.HandlerContext) {}

// AfterAdd starts the timer when the handler joins an already active channel.
func (h *ReadTimeoutHandler) AfterAdd(ctx *channel.HandlerContext) {
	if ctx.Channel().IsActive() {
		h.initialize(ctx)
	}
}

func (h *ReadTimeoutHandler) BeforeRemove(ctx *channel.HandlerContext) { h.destroy() }
func (h *ReadTimeoutHandler) AfterRemove(ctx *channel.HandlerContext)  {}

func (h *ReadTimeoutHandler) ChannelOpen(ctx *channel.HandlerContext) error {
	ctx.FireChannelOpen()
	return nil
}

func (h *ReadTimeoutHandler) ChannelActive(ctx *channel.HandlerContext) error {
	h.initialize(ctx)
	ctx.FireChannelActive()
	return nil
}

func (h *ReadTimeoutHandler) ChannelInactive(ctx *channel.HandlerContext) error {
	h.destroy()
	ctx.FireChannelInactive()
	return nil
}

func (h *ReadTimeoutHandler) MessageReceived(ctx *channel.HandlerContext, msg any) error {
	h.lastRead = ctx.Executor().Now()
	ctx.FireMessageReceived(msg)
	return nil
}

func (h *ReadTimeoutHandler) BufferReceived(ctx *channel.HandlerContext, buf buffer.Buffer) error {
	h.lastRead = ctx.Executor().Now()
	ctx.FireBufferReceived(buf)
	return nil
}

func (h *ReadTimeoutHandler) initialize(ctx *channel.HandlerContext) {
	if h.state != stateNone {
		return
	}
	h.state = stateInitialized
	h.lastRead = ctx.Executor().Now()
	h.schedule(ctx, h.timeout)
}

func (h *ReadTimeoutHandler) destroy() {
	h.state = stateDestroyed
	if h.task != nil {
		h.task.Cancel()
		h.task = nil
	}
}

func (h *ReadTimeoutHandler) schedule(ctx *channel.HandlerContext, delay time.Duration) {
	task, err := ctx.Executor().Schedule(delay, func() { h.check(ctx) })
	if err != nil {
		ctx.Logger().Warn("read timeout not scheduled", "channel", ctx.Channel().String(), "error", err)
		h.task = nil
		return
	}
	h.task = task
}

func (h *ReadTimeoutHandler) check(ctx *channel.HandlerContext) {
	if h.state != stateInitialized || !ctx.Channel().IsOpen() {
		return
	}
	next := h.timeout - ctx.Executor().Now().Sub(h.lastRead)
	if next > 0 {
		h.schedule(ctx, next)
		return
	}
	h.schedule(ctx, h.timeout)
	h.readTimedOut(ctx)
}

func (h *ReadTimeoutHandler) readTimedOut(ctx *channel.HandlerContext) {
	if h.closed {
		return
	}
	ctx.FireExceptionCaught(ErrReadTimeout)
	if h.onExpire != nil {
		h.onExpire(ctx)
	}
	h.closed = true
	ctx.Close()
}
