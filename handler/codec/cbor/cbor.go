// File: handler/codec/cbor/cbor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package cbor maps inbound frames to typed values and typed outbound
// values to frames using deterministic CBOR encoding.
package cbor

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/momentics/hioload-pipeline/buffer"
	"github.com/momentics/hioload-pipeline/channel"
	"github.com/momentics/hioload-pipeline/core/future"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cbor: encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("cbor: decoder initialization failed: " + err.Error())
	}
}

// Codec decodes every inbound buffer frame into a T and encodes every
// outbound T. It must sit behind a frame decoder so that each buffer holds
// exactly one item.
type Codec[T any] struct{}

// New returns a shareable codec for T.
func New[T any]() *Codec[T] { return &Codec[T]{} }

func (c *Codec[T]) Clone() channel.Handler { return c }

func (c *Codec[T]) MessageReceived(ctx *channel.HandlerContext, msg any) error {
	b, ok := msg.(buffer.Buffer)
	if !ok {
		ctx.FireMessageReceived(msg)
		return nil
	}
	defer b.Release()
	var v T
	if err := decMode.Unmarshal(b.ReadableBytes(), &v); err != nil {
		return fmt.Errorf("cbor: decode %T: %w", v, err)
	}
	ctx.FireMessageReceived(v)
	return nil
}

func (c *Codec[T]) Write(ctx *channel.HandlerContext, msg any, f *future.Future) error {
	v, ok := msg.(T)
	if !ok {
		ctx.WriteWith(msg, f)
		return nil
	}
	data, err := encMode.Marshal(v)
	if err != nil {
		return fmt.Errorf("cbor: encode %T: %w", v, err)
	}
	ctx.WriteWith(buffer.Wrap(data), f)
	return nil
}

// Marshal encodes v the way Codec does.
func Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

// Unmarshal decodes data the way Codec does.
func Unmarshal(data []byte, v any) error { return decMode.Unmarshal(data, v) }
