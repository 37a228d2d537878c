// File: handler/traffic/traffic.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package traffic shapes inbound bandwidth. Buffers that exceed the token
// budget are held in arrival order and released by a task on the handler's
// executor once the limiter allows them.
package traffic

import (
	"time"

	"github.com/eapache/queue"
	"golang.org/x/time/rate"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/buffer"
	"github.com/momentics/hioload-pipeline/channel"
)

// Shaper delays inbound buffers to respect a byte rate.
type Shaper struct {
	channel.HandlerBase
	limit  rate.Limit
	burst  int
	shared *rate.Limiter

	limiter *rate.Limiter
	pending *queue.Queue
	task    api.Cancelable
}

func validate(bytesPerSecond, burst int) error {
	if bytesPerSecond <= 0 || burst <= 0 {
		return api.Errorf(api.ErrCodeInvalidArgument, "rate and burst must be positive: %d/%d", bytesPerSecond, burst)
	}
	return nil
}

// New limits every channel to bytesPerSecond on its own.
func New(bytesPerSecond, burst int) (*Shaper, error) {
	if err := validate(bytesPerSecond, burst); err != nil {
		return nil, err
	}
	s := &Shaper{limit: rate.Limit(bytesPerSecond), burst: burst}
	s.limiter = rate.NewLimiter(s.limit, s.burst)
	s.pending = queue.New()
	return s, nil
}

// NewShared limits all channels cloned from the returned handler to
// bytesPerSecond in total.
func NewShared(bytesPerSecond, burst int) (*Shaper, error) {
	if err := validate(bytesPerSecond, burst); err != nil {
		return nil, err
	}
	l := rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
	return &Shaper{limit: l.Limit(), burst: burst, shared: l, limiter: l, pending: queue.New()}, nil
}

func (s *Shaper) Clone() channel.Handler {
	c := &Shaper{limit: s.limit, burst: s.burst, shared: s.shared, pending: queue.New()}
	if c.shared != nil {
		c.limiter = c.shared
	} else {
		c.limiter = rate.NewLimiter(c.limit, c.burst)
	}
	return c
}

// Held returns the number of buffers waiting for tokens.
func (s *Shaper) Held() int { return s.pending.Length() }

func (s *Shaper) BufferReceived(ctx *channel.HandlerContext, buf buffer.Buffer) error {
	if s.pending.Length() > 0 {
		s.pending.Add(buf)
		return nil
	}
	if d := s.reserve(ctx, buf); d > 0 {
		s.pending.Add(buf)
		s.arm(ctx, d)
		return nil
	}
	ctx.FireBufferReceived(buf)
	return nil
}

// reserve takes tokens for buf and returns how long delivery must wait.
// Buffers larger than the burst are let through at once.
func (s *Shaper) reserve(ctx *channel.HandlerContext, buf buffer.Buffer) time.Duration {
	now := ctx.Executor().Now()
	r := s.limiter.ReserveN(now, buf.ReadableLen())
	if !r.OK() {
		ctx.Logger().Debug("buffer exceeds traffic burst", "channel", ctx.Channel().String(), "bytes", buf.ReadableLen())
		return 0
	}
	return r.DelayFrom(now)
}

func (s *Shaper) arm(ctx *channel.HandlerContext, d time.Duration) {
	task, err := ctx.Executor().Schedule(d, func() { s.release(ctx) })
	if err != nil {
		ctx.Logger().Warn("traffic release not scheduled", "channel", ctx.Channel().String(), "error", err)
		s.flush(ctx)
		return
	}
	s.task = task
}

// release delivers the reserved head and every following buffer the
// limiter admits, then re-arms for the next one.
func (s *Shaper) release(ctx *channel.HandlerContext) {
	s.task = nil
	if s.pending.Length() == 0 || ctx.IsRemoved() {
		return
	}
	ctx.FireBufferReceived(s.pending.Remove().(buffer.Buffer))
	for s.pending.Length() > 0 {
		head := s.pending.Peek().(buffer.Buffer)
		if d := s.reserve(ctx, head); d > 0 {
			s.arm(ctx, d)
			return
		}
		ctx.FireBufferReceived(s.pending.Remove().(buffer.Buffer))
	}
}

func (s *Shaper) cancel() {
	if s.task != nil {
		s.task.Cancel()
		s.task = nil
	}
}

func (s *Shaper) flush(ctx *channel.HandlerContext) {
	for s.pending.Length() > 0 {
		ctx.FireBufferReceived(s.pending.Remove().(buffer.Buffer))
	}
}

func (s *Shaper) BeforeAdd(*channel.HandlerContext) {}
func (s *Shaper) AfterAdd(*channel.HandlerContext)  {}

// BeforeRemove hands held buffers to the next handler.
func (s *Shaper) BeforeRemove(ctx *channel.HandlerContext) {
	s.cancel()
	s.flush(ctx)
}

func (s *Shaper) AfterRemove(*channel.HandlerContext) {}

func (s *Shaper) ChannelOpen(ctx *channel.HandlerContext) error {
	ctx.FireChannelOpen()
	return nil
}

func (s *Shaper) ChannelActive(ctx *channel.HandlerContext) error {
	ctx.FireChannelActive()
	return nil
}

// ChannelInactive drops held buffers.
func (s *Shaper) ChannelInactive(ctx *channel.HandlerContext) error {
	s.cancel()
	for s.pending.Length() > 0 {
		s.pending.Remove().(buffer.Buffer).Release()
	}
	ctx.FireChannelInactive()
	return nil
}
