// File: handler/codec/decoder.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Frame decoding over a cumulation buffer. Inbound buffers are appended to
// a private cumulation; the Decoder is called until it reports that no
// complete frame is left.

package codec

import (
	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/buffer"
	"github.com/momentics/hioload-pipeline/channel"
)

// Decoder extracts one frame from in. It returns a nil frame without
// consuming anything when in does not hold a complete frame yet.
type Decoder interface {
	Decode(ctx *channel.HandlerContext, in buffer.Buffer) (any, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(ctx *channel.HandlerContext, in buffer.Buffer) (any, error)

func (f DecoderFunc) Decode(ctx *channel.HandlerContext, in buffer.Buffer) (any, error) {
	return f(ctx, in)
}

// compactThreshold is the number of consumed bytes after which the
// cumulation is compacted.
const compactThreshold = 4096

// FrameDecoder accumulates inbound bytes and fires every decoded frame as
// a message. A FrameDecoder holds per-connection state and is cloned for
// every pipeline.
type FrameDecoder struct {
	channel.HandlerBase
	decoder Decoder
	cum     *buffer.Heap
}

// NewFrameDecoder wraps d, which must be stateless.
func NewFrameDecoder(d Decoder) *FrameDecoder {
	return &FrameDecoder{decoder: d}
}

func (h *FrameDecoder) Clone() channel.Handler { return NewFrameDecoder(h.decoder) }

// Buffered returns the number of bytes waiting for a complete frame.
func (h *FrameDecoder) Buffered() int {
	if h.cum == nil {
		return 0
	}
	return h.cum.ReadableLen()
}

func (h *FrameDecoder) BufferReceived(ctx *channel.HandlerContext, buf buffer.Buffer) error {
	defer buf.Release()
	if h.cum == nil {
		c, err := buffer.New(max(buf.ReadableLen(), 256), buffer.WithOrder(buf.Order()))
		if err != nil {
			return err
		}
		h.cum = c
	}
	if err := h.cum.WriteBuffer(buf); err != nil {
		return err
	}
	return h.drain(ctx)
}

func (h *FrameDecoder) drain(ctx *channel.HandlerContext) error {
	for h.cum.IsReadable() {
		before := h.cum.ReaderIndex()
		frame, err := h.decoder.Decode(ctx, h.cum)
		if err != nil {
			return err
		}
		if frame == nil {
			break
		}
		if h.cum.ReaderIndex() == before {
			return api.NewError(api.ErrCodeInternal, "decoder produced a frame without consuming input")
		}
		ctx.FireMessageReceived(frame)
		if ctx.IsRemoved() {
			break
		}
	}
	switch {
	case !h.cum.IsReadable():
		h.cum.Clear()
	case h.cum.ReaderIndex() >= compactThreshold:
		h.cum.DiscardReadBytes()
	}
	return nil
}

func (h *FrameDecoder) ChannelOpen(ctx *channel.HandlerContext) error {
	ctx.FireChannelOpen()
	return nil
}

func (h *FrameDecoder) ChannelActive(ctx *channel.HandlerContext) error {
	ctx.FireChannelActive()
	return nil
}

// ChannelInactive drops any partial frame.
func (h *FrameDecoder) ChannelInactive(ctx *channel.HandlerContext) error {
	if h.cum != nil {
		if n := h.cum.ReadableLen(); n > 0 {
			ctx.Logger().Debug("dropping partial frame", "channel", ctx.Channel().String(), "bytes", n)
		}
		h.cum.Release()
		h.cum = nil
	}
	ctx.FireChannelInactive()
	return nil
}
