// File: handler/compress/compress.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package compress compresses outbound frames and decompresses inbound
// frames. Every frame carries a five byte header: a codec tag followed by
// the uncompressed length. Frames that do not shrink are sent raw.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/buffer"
	"github.com/momentics/hioload-pipeline/channel"
	"github.com/momentics/hioload-pipeline/core/future"
)

// Algorithm selects the block codec.
type Algorithm byte

const (
	None Algorithm = iota
	LZ4
	Zstd
)

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	}
	return fmt.Sprintf("Algorithm(%d)", byte(a))
}

// ParseAlgorithm maps a configuration name to an Algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	}
	return None, api.Errorf(api.ErrCodeInvalidArgument, "unknown compression %q", name)
}

const headerLen = 5

// ErrCorrupt reports a frame that cannot be decompressed.
var ErrCorrupt = errors.New("compress: corrupt frame")

// zstd encoders and decoders are safe for concurrent EncodeAll/DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

// Handler is shareable; it keeps no per-connection state.
type Handler struct {
	algo     Algorithm
	maxFrame int
}

// New returns a handler compressing with algo. Inbound frames announcing
// more than maxFrame uncompressed bytes are rejected.
func New(algo Algorithm, maxFrame int) (*Handler, error) {
	if algo > Zstd {
		return nil, api.Errorf(api.ErrCodeInvalidArgument, "unknown compression %d", algo)
	}
	if maxFrame <= 0 {
		return nil, api.Errorf(api.ErrCodeInvalidArgument, "maxFrame must be positive: %d", maxFrame)
	}
	return &Handler{algo: algo, maxFrame: maxFrame}, nil
}

func (h *Handler) Clone() channel.Handler { return h }

// Encode produces one compressed frame for data.
func (h *Handler) Encode(data []byte) ([]byte, error) {
	var body []byte
	tag := None
	switch h.algo {
	case LZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n > 0 && n < len(data) {
			body, tag = dst[:n], LZ4
		}
	case Zstd:
		if c := zstdEncoder.EncodeAll(data, nil); len(c) < len(data) {
			body, tag = c, Zstd
		}
	}
	if tag == None {
		body = data
	}
	out := make([]byte, headerLen+len(body))
	out[0] = byte(tag)
	binary.BigEndian.PutUint32(out[1:], uint32(len(data)))
	copy(out[headerLen:], body)
	return out, nil
}

// Decode reverses Encode.
func (h *Handler) Decode(frame []byte) ([]byte, error) {
	if len(frame) < headerLen {
		return nil, fmt.Errorf("%w: %d byte frame", ErrCorrupt, len(frame))
	}
	size := int(binary.BigEndian.Uint32(frame[1:]))
	if size > h.maxFrame {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrCorrupt, size, h.maxFrame)
	}
	body := frame[headerLen:]
	switch Algorithm(frame[0]) {
	case None:
		if len(body) != size {
			return nil, fmt.Errorf("%w: raw length %d, expected %d", ErrCorrupt, len(body), size)
		}
		return append([]byte(nil), body...), nil
	case LZ4:
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(body, dst)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCorrupt, err)
		}
		if n != size {
			return nil, fmt.Errorf("%w: lz4 produced %d bytes, expected %d", ErrCorrupt, n, size)
		}
		return dst, nil
	case Zstd:
		dst, err := zstdDecoder.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
		}
		if len(dst) != size {
			return nil, fmt.Errorf("%w: zstd produced %d bytes, expected %d", ErrCorrupt, len(dst), size)
		}
		return dst, nil
	}
	return nil, fmt.Errorf("%w: unknown tag %d", ErrCorrupt, frame[0])
}

func (h *Handler) MessageReceived(ctx *channel.HandlerContext, msg any) error {
	b, ok := msg.(buffer.Buffer)
	if !ok {
		ctx.FireMessageReceived(msg)
		return nil
	}
	data, err := h.Decode(b.ReadableBytes())
	b.Release()
	if err != nil {
		return err
	}
	ctx.FireMessageReceived(buffer.Wrap(data))
	return nil
}

func (h *Handler) Write(ctx *channel.HandlerContext, msg any, f *future.Future) error {
	var data []byte
	switch m := msg.(type) {
	case buffer.Buffer:
		data = append([]byte(nil), m.ReadableBytes()...)
		m.Release()
	case []byte:
		data = m
	default:
		ctx.WriteWith(msg, f)
		return nil
	}
	out, err := h.Encode(data)
	if err != nil {
		return err
	}
	ctx.WriteWith(buffer.Wrap(out), f)
	return nil
}
