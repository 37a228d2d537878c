// File: handler/codec/lengthfield.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package codec

import (
	"errors"
	"fmt"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/buffer"
	"github.com/momentics/hioload-pipeline/channel"
	"github.com/momentics/hioload-pipeline/core/future"
)

var (
	// ErrFrameTooLong is returned when a length field announces a frame
	// above the configured maximum. The buffered input is discarded.
	ErrFrameTooLong = errors.New("codec: frame too long")
	// ErrCorruptedFrame is returned for length fields that cannot describe
	// a valid frame.
	ErrCorruptedFrame = errors.New("codec: corrupted frame")
)

// LengthField describes a length-prefixed frame layout.
type LengthField struct {
	// Offset of the length field from the frame start.
	Offset int
	// Size of the length field: 1, 2, 4 or 8 bytes.
	Size int
	// Adjustment is added to the field value to obtain the number of
	// bytes that follow the field.
	Adjustment int
	// Strip is the number of leading bytes removed from every frame.
	Strip int
	// MaxFrame bounds the frame size including the header.
	MaxFrame int
}

func (lf LengthField) validate() error {
	switch lf.Size {
	case 1, 2, 4, 8:
	default:
		return api.Errorf(api.ErrCodeInvalidArgument, "length field size must be 1, 2, 4 or 8: %d", lf.Size)
	}
	if lf.Offset < 0 || lf.Strip < 0 {
		return api.NewError(api.ErrCodeInvalidArgument, "negative length field offset or strip")
	}
	if lf.MaxFrame <= 0 {
		return api.Errorf(api.ErrCodeInvalidArgument, "maxFrame must be positive: %d", lf.MaxFrame)
	}
	if lf.Offset+lf.Size > lf.MaxFrame {
		return api.NewError(api.ErrCodeInvalidArgument, "length field does not fit in maxFrame")
	}
	return nil
}

// value reads the unsigned field at index in the buffer's byte order.
func (lf LengthField) value(in buffer.Buffer, index int) (int64, error) {
	switch lf.Size {
	case 1:
		v, err := in.GetByte(index)
		return int64(v), err
	case 2:
		v, err := in.GetShort(index)
		return int64(uint16(v)), err
	case 4:
		v, err := in.GetInt(index)
		return int64(uint32(v)), err
	default:
		v, err := in.GetLong(index)
		if v < 0 {
			return 0, ErrCorruptedFrame
		}
		return v, err
	}
}

// NewLengthFieldFrameDecoder splits the inbound stream by a length field.
func NewLengthFieldFrameDecoder(lf LengthField) (*FrameDecoder, error) {
	if err := lf.validate(); err != nil {
		return nil, err
	}
	return NewFrameDecoder(DecoderFunc(lf.decode)), nil
}

func (lf LengthField) decode(_ *channel.HandlerContext, in buffer.Buffer) (any, error) {
	header := lf.Offset + lf.Size
	if in.ReadableLen() < header {
		return nil, nil
	}
	raw, err := lf.value(in, in.ReaderIndex()+lf.Offset)
	if err != nil {
		return nil, err
	}
	frameLen := raw + int64(lf.Adjustment) + int64(header)
	if frameLen < int64(header) {
		in.Skip(in.ReadableLen())
		return nil, fmt.Errorf("%w: length %d is shorter than the header", ErrCorruptedFrame, frameLen)
	}
	if frameLen > int64(lf.MaxFrame) {
		in.Skip(in.ReadableLen())
		return nil, fmt.Errorf("%w: %d exceeds %d", ErrFrameTooLong, frameLen, lf.MaxFrame)
	}
	if int64(in.ReadableLen()) < frameLen {
		return nil, nil
	}
	if int64(lf.Strip) > frameLen {
		in.Skip(int(frameLen))
		return nil, fmt.Errorf("%w: strip %d exceeds frame length %d", ErrCorruptedFrame, lf.Strip, frameLen)
	}
	if err := in.Skip(lf.Strip); err != nil {
		return nil, err
	}
	frame, err := in.ReadBytes(int(frameLen) - lf.Strip)
	if err != nil {
		return nil, err
	}
	return frame, nil
}

// LengthFieldPrepender prefixes every outbound buffer with its length.
// Messages that are neither buffers nor byte slices pass through.
type LengthFieldPrepender struct {
	size       int
	adjustment int
}

// NewLengthFieldPrepender writes a size byte length field; adjustment is
// added to the payload length before it is written.
func NewLengthFieldPrepender(size, adjustment int) (*LengthFieldPrepender, error) {
	switch size {
	case 1, 2, 4, 8:
	default:
		return nil, api.Errorf(api.ErrCodeInvalidArgument, "length field size must be 1, 2, 4 or 8: %d", size)
	}
	return &LengthFieldPrepender{size: size, adjustment: adjustment}, nil
}

func (p *LengthFieldPrepender) Clone() channel.Handler { return p }

func (p *LengthFieldPrepender) frame(payload buffer.Buffer) (buffer.Buffer, error) {
	defer payload.Release()
	n := payload.ReadableLen() + p.adjustment
	if n < 0 {
		return nil, api.Errorf(api.ErrCodeInvalidArgument, "adjusted length is negative: %d", n)
	}
	var limit int64 = 1<<(8*p.size) - 1
	if p.size == 8 {
		limit = 1<<63 - 1
	}
	if int64(n) > limit {
		return nil, api.Errorf(api.ErrCodeOutOfRange, "length %d does not fit in %d bytes", n, p.size)
	}
	out, err := buffer.New(p.size+payload.ReadableLen(), buffer.WithOrder(payload.Order()))
	if err != nil {
		return nil, err
	}
	switch p.size {
	case 1:
		err = out.WriteByte(byte(n))
	case 2:
		err = out.WriteShort(int16(uint16(n)))
	case 4:
		err = out.WriteInt(int32(uint32(n)))
	default:
		err = out.WriteLong(int64(n))
	}
	if err == nil {
		err = out.WriteBuffer(payload)
	}
	if err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

func (p *LengthFieldPrepender) Write(ctx *channel.HandlerContext, msg any, f *future.Future) error {
	var payload buffer.Buffer
	switch m := msg.(type) {
	case buffer.Buffer:
		payload = m
	case []byte:
		payload = buffer.Wrap(m)
	default:
		ctx.WriteWith(msg, f)
		return nil
	}
	out, err := p.frame(payload)
	if err != nil {
		return err
	}
	ctx.WriteWith(out, f)
	return nil
}

func (p *LengthFieldPrepender) WriteBuffer(ctx *channel.HandlerContext, buf buffer.Buffer, f *future.Future) error {
	out, err := p.frame(buf)
	if err != nil {
		return err
	}
	ctx.WriteBufferWith(out, f)
	return nil
}
