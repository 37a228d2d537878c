// File: handler/logging/logging.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package logging records every pipeline event with log/slog and passes
// the event on unchanged.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/momentics/hioload-pipeline/buffer"
	"github.com/momentics/hioload-pipeline/channel"
	"github.com/momentics/hioload-pipeline/core/future"
)

// Handler logs at a fixed level; exceptions are always logged at warn.
type Handler struct {
	logger *slog.Logger
	level  slog.Level
}

// Option customises a Handler.
type Option func(*Handler)

func WithLogger(l *slog.Logger) Option { return func(h *Handler) { h.logger = l } }

func WithLevel(level slog.Level) Option { return func(h *Handler) { h.level = level } }

// New returns a shareable logging handler. Default level is debug.
func New(opts ...Option) *Handler {
	h := &Handler{level: slog.LevelDebug}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default().With("component", "pipeline")
	}
	return h
}

func (h *Handler) Clone() channel.Handler { return h }

func (h *Handler) log(ctx *channel.HandlerContext, event string, attrs ...any) {
	if !h.logger.Enabled(context.Background(), h.level) {
		return
	}
	attrs = append([]any{"channel", ctx.Channel().String()}, attrs...)
	h.logger.Log(context.Background(), h.level, event, attrs...)
}

func describe(msg any) string {
	switch m := msg.(type) {
	case buffer.Buffer:
		return fmt.Sprintf("%d bytes", m.ReadableLen())
	case []byte:
		return fmt.Sprintf("%d bytes", len(m))
	}
	return fmt.Sprintf("%T", msg)
}

func (h *Handler) ChannelOpen(ctx *channel.HandlerContext) error {
	h.log(ctx, "OPEN")
	ctx.FireChannelOpen()
	return nil
}

func (h *Handler) ChannelActive(ctx *channel.HandlerContext) error {
	h.log(ctx, "ACTIVE")
	ctx.FireChannelActive()
	return nil
}

func (h *Handler) ChannelInactive(ctx *channel.HandlerContext) error {
	h.log(ctx, "INACTIVE")
	ctx.FireChannelInactive()
	return nil
}

func (h *Handler) ExceptionCaught(ctx *channel.HandlerContext, err error) error {
	h.logger.Warn("EXCEPTION", "channel", ctx.Channel().String(), "error", err)
	ctx.FireExceptionCaught(err)
	return nil
}

func (h *Handler) UserEventTriggered(ctx *channel.HandlerContext, evt any) error {
	h.log(ctx, "USER_EVENT", "event", evt)
	ctx.FireUserEventTriggered(evt)
	return nil
}

func (h *Handler) MessageReceived(ctx *channel.HandlerContext, msg any) error {
	h.log(ctx, "RECEIVED", "message", describe(msg))
	ctx.FireMessageReceived(msg)
	return nil
}

func (h *Handler) BufferReceived(ctx *channel.HandlerContext, buf buffer.Buffer) error {
	h.log(ctx, "RECEIVED", "bytes", buf.ReadableLen())
	ctx.FireBufferReceived(buf)
	return nil
}

func (h *Handler) Write(ctx *channel.HandlerContext, msg any, f *future.Future) error {
	h.log(ctx, "WRITE", "message", describe(msg))
	ctx.WriteWith(msg, f)
	return nil
}

func (h *Handler) WriteBuffer(ctx *channel.HandlerContext, buf buffer.Buffer, f *future.Future) error {
	h.log(ctx, "WRITE", "bytes", buf.ReadableLen())
	ctx.WriteBufferWith(buf, f)
	return nil
}

func (h *Handler) Flush(ctx *channel.HandlerContext) error {
	h.log(ctx, "FLUSH")
	ctx.Flush()
	return nil
}

func (h *Handler) Bind(ctx *channel.HandlerContext, local net.Addr, f *future.Future) error {
	h.log(ctx, "BIND", "local", local)
	ctx.BindWith(local, f)
	return nil
}

func (h *Handler) Connect(ctx *channel.HandlerContext, remote, local net.Addr, f *future.Future) error {
	h.log(ctx, "CONNECT", "remote", remote)
	ctx.ConnectWith(remote, local, f)
	return nil
}

func (h *Handler) Disconnect(ctx *channel.HandlerContext, f *future.Future) error {
	h.log(ctx, "DISCONNECT")
	ctx.DisconnectWith(f)
	return nil
}

func (h *Handler) Close(ctx *channel.HandlerContext, f *future.Future) error {
	h.log(ctx, "CLOSE")
	ctx.CloseWith(f)
	return nil
}
