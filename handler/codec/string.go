// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package codec

import (
	"github.com/momentics/hioload-pipeline/buffer"
	"github.com/momentics/hioload-pipeline/channel"
	"github.com/momentics/hioload-pipeline/core/future"
)

// StringCodec turns inbound frames into strings and outbound strings into
// buffers. Other messages pass through untouched.
type StringCodec struct{}

func (StringCodec) Clone() channel.Handler { return StringCodec{} }

func (StringCodec) MessageReceived(ctx *channel.HandlerContext, msg any) error {
	if b, ok := msg.(buffer.Buffer); ok {
		s := string(b.ReadableBytes())
		b.Release()
		ctx.FireMessageReceived(s)
		return nil
	}
	ctx.FireMessageReceived(msg)
	return nil
}

func (StringCodec) Write(ctx *channel.HandlerContext, msg any, f *future.Future) error {
	if s, ok := msg.(string); ok {
		ctx.WriteWith(buffer.CopyOf([]byte(s)), f)
		return nil
	}
	ctx.WriteWith(msg, f)
	return nil
}
