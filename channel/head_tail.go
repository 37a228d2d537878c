// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"net"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/buffer"
	"github.com/momentics/hioload-pipeline/core/future"
)

// headHandler terminates the outbound path at the channel's transport.
type headHandler struct {
	ch *Channel
}

func (h *headHandler) Clone() Handler { return h }

func (h *headHandler) Write(_ *HandlerContext, msg any, f *future.Future) error {
	switch m := msg.(type) {
	case buffer.Buffer:
		h.ch.enqueueWrite(m, f)
	case []byte:
		h.ch.enqueueWrite(buffer.Wrap(m), f)
	default:
		return api.Errorf(api.ErrCodeNotSupported, "unsupported outbound message type %T", msg)
	}
	return nil
}

func (h *headHandler) WriteBuffer(_ *HandlerContext, buf buffer.Buffer, f *future.Future) error {
	h.ch.enqueueWrite(buf, f)
	return nil
}

func (h *headHandler) Flush(*HandlerContext) error {
	h.ch.flush()
	return nil
}

func (h *headHandler) Bind(_ *HandlerContext, local net.Addr, f *future.Future) error {
	h.ch.doBind(local, f)
	return nil
}

func (h *headHandler) Connect(_ *HandlerContext, remote, local net.Addr, f *future.Future) error {
	h.ch.doConnect(remote, local, f)
	return nil
}

func (h *headHandler) Disconnect(_ *HandlerContext, f *future.Future) error {
	h.ch.doDisconnect(f)
	return nil
}

func (h *headHandler) Close(_ *HandlerContext, f *future.Future) error {
	h.ch.doClose(f)
	return nil
}

// tailHandler absorbs inbound events nobody consumed.
type tailHandler struct{}

func (t *tailHandler) Clone() Handler                        { return t }
func (t *tailHandler) ChannelOpen(*HandlerContext) error     { return nil }
func (t *tailHandler) ChannelActive(*HandlerContext) error   { return nil }
func (t *tailHandler) ChannelInactive(*HandlerContext) error { return nil }

func (t *tailHandler) ExceptionCaught(ctx *HandlerContext, err error) error {
	ctx.Logger().Warn("exception reached the end of the pipeline",
		"channel", ctx.Channel().String(), "error", err)
	return nil
}

func (t *tailHandler) UserEventTriggered(ctx *HandlerContext, evt any) error {
	ctx.Logger().Debug("discarded user event", "channel", ctx.Channel().String(), "event", evt)
	return nil
}

func (t *tailHandler) MessageReceived(ctx *HandlerContext, msg any) error {
	ctx.Logger().Debug("discarded inbound message", "channel", ctx.Channel().String(), "type", typeName(msg))
	if b, ok := msg.(buffer.Buffer); ok {
		b.Release()
	}
	return nil
}

func (t *tailHandler) BufferReceived(ctx *HandlerContext, buf buffer.Buffer) error {
	ctx.Logger().Debug("discarded inbound buffer", "channel", ctx.Channel().String(), "bytes", buf.ReadableLen())
	buf.Release()
	return nil
}
