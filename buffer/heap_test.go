package buffer_test

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/buffer"
	"github.com/momentics/hioload-pipeline/pool"
)

func newBuf(t *testing.T, capacity int, opts ...buffer.Option) *buffer.Heap {
	t.Helper()
	b, err := buffer.New(capacity, opts...)
	require.NoError(t, err)
	return b
}

func TestBigEndianIntRoundTrip(t *testing.T) {
	b := newBuf(t, 8)
	require.NoError(t, b.SetInt(0, 0x01020304))

	v, err := b.GetByte(0)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), v)
	v, err = b.GetByte(3)
	require.NoError(t, err)
	assert.Equal(t, byte(0x04), v)

	got, err := b.GetInt(0)
	require.NoError(t, err)
	assert.Equal(t, int32(0x01020304), got)
}

func TestLittleEndianOrder(t *testing.T) {
	b := newBuf(t, 8, buffer.WithOrder(binary.LittleEndian))
	require.NoError(t, b.SetInt(0, 0x01020304))
	v, err := b.GetByte(0)
	require.NoError(t, err)
	assert.Equal(t, byte(0x04), v)
	assert.Equal(t, binary.LittleEndian, b.Order())
}

func TestAccessorRoundTrips(t *testing.T) {
	b := newBuf(t, 16)
	require.NoError(t, b.SetShort(0, -2))
	require.NoError(t, b.SetLong(2, -0x0102030405060708))
	require.NoError(t, b.SetByte(10, 0xfe))

	s, err := b.GetShort(0)
	require.NoError(t, err)
	assert.Equal(t, int16(-2), s)
	l, err := b.GetLong(2)
	require.NoError(t, err)
	assert.Equal(t, int64(-0x0102030405060708), l)
	v, err := b.GetByte(10)
	require.NoError(t, err)
	assert.Equal(t, byte(0xfe), v)
}

func TestBoundsChecks(t *testing.T) {
	b := newBuf(t, 8)
	cases := map[string]func() error{
		"get int at capacity-3": func() error { _, err := b.GetInt(5); return err },
		"get byte at capacity":  func() error { _, err := b.GetByte(8); return err },
		"negative index":        func() error { _, err := b.GetShort(-1); return err },
		"set long overflow":     func() error { return b.SetLong(1, 1) },
		"set bytes overflow":    func() error { _, err := b.SetBytesFrom(6, []byte{1, 2, 3}); return err },
		"get bytes overflow":    func() error { _, err := b.GetBytesTo(7, make([]byte, 2)); return err },
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			err := fn()
			require.Error(t, err)
			assert.ErrorIs(t, err, api.ErrOutOfRange)
		})
	}
	_, err := b.GetInt(4)
	assert.NoError(t, err)
}

func TestIndexInvariant(t *testing.T) {
	b := newBuf(t, 8)
	assert.ErrorIs(t, b.SetWriterIndex(9), api.ErrOutOfRange)
	require.NoError(t, b.SetWriterIndex(4))
	assert.ErrorIs(t, b.SetReaderIndex(5), api.ErrOutOfRange)
	require.NoError(t, b.SetReaderIndex(2))
	assert.ErrorIs(t, b.SetWriterIndex(1), api.ErrOutOfRange)
	assert.ErrorIs(t, b.SetIndex(3, 2), api.ErrOutOfRange)
	assert.Equal(t, 2, b.ReadableLen())
	assert.Equal(t, 4, b.WritableLen())
}

func TestGrowPreservesLiveRegion(t *testing.T) {
	b := newBuf(t, 8)
	_, err := b.Write([]byte{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	require.NoError(t, b.SetReaderIndex(2))

	require.NoError(t, b.SetCapacity(32))
	assert.Equal(t, 32, b.Capacity())
	assert.Equal(t, 2, b.ReaderIndex())
	assert.Equal(t, 6, b.WriterIndex())
	assert.Equal(t, []byte{3, 4, 5, 6}, b.ReadableBytes())
}

func TestShrinkClampsIndices(t *testing.T) {
	t.Run("reader inside new capacity", func(t *testing.T) {
		b := newBuf(t, 8)
		_, err := b.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8})
		require.NoError(t, err)
		require.NoError(t, b.SetReaderIndex(2))
		require.NoError(t, b.SetCapacity(5))
		assert.Equal(t, 2, b.ReaderIndex())
		assert.Equal(t, 5, b.WriterIndex())
		assert.Equal(t, []byte{3, 4, 5}, b.ReadableBytes())
	})
	t.Run("reader beyond new capacity", func(t *testing.T) {
		b := newBuf(t, 8)
		_, err := b.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8})
		require.NoError(t, err)
		require.NoError(t, b.SetReaderIndex(6))
		require.NoError(t, b.SetCapacity(4))
		assert.Equal(t, 4, b.ReaderIndex())
		assert.Equal(t, 4, b.WriterIndex())
		assert.False(t, b.IsReadable())
	})
}

func TestInvalidCapacityLeavesBufferUnchanged(t *testing.T) {
	b := newBuf(t, 8, buffer.WithMaxCapacity(16))
	_, err := b.Write([]byte{9, 9})
	require.NoError(t, err)
	assert.ErrorIs(t, b.SetCapacity(-1), api.ErrInvalidArgument)
	assert.ErrorIs(t, b.SetCapacity(17), api.ErrInvalidArgument)
	assert.Equal(t, 8, b.Capacity())
	assert.Equal(t, []byte{9, 9}, b.ReadableBytes())
}

func TestNegativeConstructorCapacity(t *testing.T) {
	_, err := buffer.New(-1)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestSliceAliasesParent(t *testing.T) {
	b := newBuf(t, 8)
	_, err := b.Write([]byte{0, 1, 2, 3, 4, 5, 6, 7})
	require.NoError(t, err)

	s := b.Slice(2, 4)
	assert.Equal(t, 4, s.Capacity())
	assert.Equal(t, []byte{2, 3, 4, 5}, s.ReadableBytes())

	require.NoError(t, b.SetByte(3, 0xaa))
	v, err := s.GetByte(1)
	require.NoError(t, err)
	assert.Equal(t, byte(0xaa), v)

	require.NoError(t, s.SetByte(0, 0xbb))
	v, err = b.GetByte(2)
	require.NoError(t, err)
	assert.Equal(t, byte(0xbb), v)

	_, err = s.GetByte(4)
	assert.ErrorIs(t, err, api.ErrOutOfRange)
	assert.ErrorIs(t, s.SetCapacity(8), api.ErrNotSupported)
}

func TestSliceSurvivesParentGrowth(t *testing.T) {
	b := newBuf(t, 4)
	_, err := b.Write([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	s := b.Slice(1, 2)
	require.NoError(t, b.SetCapacity(64))
	require.NoError(t, b.SetByte(1, 0x42))
	v, err := s.GetByte(0)
	require.NoError(t, err)
	assert.Equal(t, byte(0x42), v)
}

func TestInvalidSliceIsEmpty(t *testing.T) {
	b := newBuf(t, 8)
	assert.Same(t, buffer.Empty, b.Slice(-1, 2))
	assert.Same(t, buffer.Empty, b.Slice(0, 0))
	assert.Same(t, buffer.Empty, b.Slice(6, 4))
	assert.Equal(t, 0, buffer.Empty.Capacity())
}

func TestCopyIsIndependent(t *testing.T) {
	b := newBuf(t, 8)
	_, err := b.Write([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	c, err := b.Copy(1, 2)
	require.NoError(t, err)
	require.NoError(t, b.SetByte(1, 0xff))
	assert.Equal(t, []byte{2, 3}, c.ReadableBytes())

	_, err = b.Copy(7, 2)
	assert.ErrorIs(t, err, api.ErrOutOfRange)
}

func TestGetBytesAcrossRepresentations(t *testing.T) {
	src := buffer.CopyOf([]byte("hello world"))
	dst := newBuf(t, 16)
	n, err := src.GetBytes(6, dst, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	got := make([]byte, 5)
	_, err = dst.GetBytesTo(0, got)
	require.NoError(t, err)
	assert.Equal(t, "world", string(got))

	ro := buffer.ReadOnly(src)
	_, err = dst.SetBytes(0, ro, 0, 5)
	require.NoError(t, err)
	_, err = dst.GetBytesTo(0, got)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	_, err = src.GetBytes(0, ro, 0, 5)
	assert.ErrorIs(t, err, api.ErrNotSupported)
}

func TestStreamTransfers(t *testing.T) {
	b := newBuf(t, 16)
	n, err := b.SetBytesFromReader(0, strings.NewReader("abcdef"), 4)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	var w bytes.Buffer
	n, err = b.GetBytesToWriter(1, &w, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "bcd", w.String())
}

func TestCursorOperations(t *testing.T) {
	b := newBuf(t, 2, buffer.WithMaxCapacity(64))
	require.NoError(t, b.WriteByte(7))
	require.NoError(t, b.WriteShort(0x0102))
	require.NoError(t, b.WriteInt(0x03040506))
	require.NoError(t, b.WriteLong(0x0708090a0b0c0d0e))
	assert.Equal(t, 15, b.ReadableLen())

	c, err := b.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(7), c)
	s, err := b.ReadShort()
	require.NoError(t, err)
	assert.Equal(t, int16(0x0102), s)
	i, err := b.ReadInt()
	require.NoError(t, err)
	assert.Equal(t, int32(0x03040506), i)
	l, err := b.ReadLong()
	require.NoError(t, err)
	assert.Equal(t, int64(0x0708090a0b0c0d0e), l)

	_, err = b.ReadByte()
	assert.Equal(t, io.EOF, err)
	_, err = b.ReadInt()
	assert.ErrorIs(t, err, api.ErrOutOfRange)
}

func TestWriteBeyondMaxCapacity(t *testing.T) {
	b := newBuf(t, 4, buffer.WithMaxCapacity(6))
	_, err := b.Write([]byte{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	err = b.WriteByte(7)
	assert.ErrorIs(t, err, api.ErrOutOfRange)
}

func TestWrapIsFixedAndShared(t *testing.T) {
	data := []byte{1, 2, 3}
	b := buffer.Wrap(data)
	assert.Equal(t, 3, b.ReadableLen())
	require.NoError(t, b.SetByte(0, 9))
	assert.Equal(t, byte(9), data[0])
	assert.Error(t, b.WriteByte(4))
}

func TestReadSliceAndDiscard(t *testing.T) {
	b := buffer.CopyOf([]byte("framedata"))
	frame, err := b.ReadSlice(5)
	require.NoError(t, err)
	assert.Equal(t, "frame", string(frame.ReadableBytes()))
	b.DiscardReadBytes()
	assert.Equal(t, 0, b.ReaderIndex())
	assert.Equal(t, "data", string(b.ReadableBytes()))
}

func TestWriteBufferConsumesSource(t *testing.T) {
	src := buffer.CopyOf([]byte{1, 2, 3})
	dst := newBuf(t, 0)
	require.NoError(t, dst.WriteBuffer(src))
	assert.False(t, src.IsReadable())
	assert.Equal(t, []byte{1, 2, 3}, dst.ReadableBytes())
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	ro := buffer.ReadOnly(buffer.CopyOf([]byte{1, 2, 3, 4}))
	assert.ErrorIs(t, ro.SetByte(0, 1), api.ErrNotSupported)
	assert.ErrorIs(t, ro.WriteByte(1), api.ErrNotSupported)
	_, err := ro.Write([]byte{1})
	assert.ErrorIs(t, err, api.ErrNotSupported)
	assert.Nil(t, ro.WritableBytes())

	s := ro.Slice(1, 2)
	assert.ErrorIs(t, s.SetByte(0, 1), api.ErrNotSupported)
	v, err := s.GetByte(0)
	require.NoError(t, err)
	assert.Equal(t, byte(2), v)
}

func TestPooledAllocatorRecycles(t *testing.T) {
	p := pool.NewBytePool()
	alloc := buffer.NewPooled(p, binary.BigEndian)
	b, err := alloc.Allocate(100)
	require.NoError(t, err)
	assert.Equal(t, 100, b.Capacity())

	s := b.Slice(0, 10)
	assert.Equal(t, 2, b.RefCnt())
	assert.False(t, b.Release())
	assert.True(t, s.Release())
	assert.Equal(t, 0, b.Capacity())

	var freed int64
	for _, c := range p.Stats().Classes {
		freed += c.TotalFree
	}
	assert.Equal(t, int64(1), freed)
}

func TestOperationTraceGolden(t *testing.T) {
	var out bytes.Buffer
	step := func(label string, b buffer.Buffer) {
		fmt.Fprintf(&out, "%s: %s [%s]\n", label, b, hex.EncodeToString(b.ReadableBytes()))
	}

	b := newBuf(t, 8, buffer.WithMaxCapacity(64))
	step("new", b)
	require.NoError(t, b.WriteInt(0x01020304))
	step("writeInt", b)
	require.NoError(t, b.WriteLong(0x0a0b0c0d0e0f1011))
	step("writeLong", b)
	_, err := b.ReadShort()
	require.NoError(t, err)
	step("readShort", b)
	b.DiscardReadBytes()
	step("discard", b)
	require.NoError(t, b.SetCapacity(6))
	step("shrink", b)

	s := b.Slice(2, 3)
	step("slice", s)
	require.NoError(t, b.SetByte(2, 0xff))
	step("sliceAfterWrite", s)

	le := newBuf(t, 4, buffer.WithOrder(binary.LittleEndian))
	require.NoError(t, le.WriteInt(0x01020304))
	step("littleEndian", le)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"))
	g.Assert(t, "operation_trace", out.Bytes())
}

func BenchmarkWriteReadInt(b *testing.B) {
	buf, _ := buffer.New(4096)
	for b.Loop() {
		buf.Clear()
		for range 1024 {
			_ = buf.WriteInt(0x01020304)
		}
		for range 1024 {
			_, _ = buf.ReadInt()
		}
	}
}
