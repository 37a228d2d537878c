// File: buffer/heap.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Heap-backed buffer. Root buffers own a region; slices are fixed-capacity
// windows onto the same region and observe every write made through it.

package buffer

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/momentics/hioload-pipeline/api"
)

// region is the storage shared by a root buffer and all of its slices.
type region struct {
	data    []byte
	refs    atomic.Int32
	release func([]byte)
}

// Heap is a contiguous byte-array buffer.
type Heap struct {
	reg    *region
	offset int
	length int
	root   bool
	order  binary.ByteOrder
	maxCap int
	reader int
	writer int
}

// Option tunes buffer construction.
type Option func(*Heap)

// WithOrder sets the byte order of multi-byte accessors. Default is big endian.
func WithOrder(order binary.ByteOrder) Option {
	return func(h *Heap) { h.order = order }
}

// WithMaxCapacity caps how far SetCapacity and writes may grow the buffer.
func WithMaxCapacity(n int) Option {
	return func(h *Heap) { h.maxCap = n }
}

// New allocates a zeroed buffer with the given initial capacity.
func New(capacity int, opts ...Option) (*Heap, error) {
	if capacity < 0 {
		return nil, api.Errorf(api.ErrCodeInvalidArgument, "negative capacity %d", capacity)
	}
	return newHeap(make([]byte, capacity), nil, 0, opts)
}

// Wrap adopts data as storage without copying. The readable region is the
// whole slice and the buffer cannot grow past len(data) unless
// WithMaxCapacity says otherwise.
func Wrap(data []byte, opts ...Option) *Heap {
	h, _ := newHeap(data, nil, len(data), append([]Option{WithMaxCapacity(len(data))}, opts...))
	return h
}

// CopyOf returns a buffer holding a private copy of data.
func CopyOf(data []byte, opts ...Option) *Heap {
	cp := make([]byte, len(data))
	copy(cp, data)
	h, _ := newHeap(cp, nil, len(cp), opts)
	return h
}

func newHeap(data []byte, release func([]byte), writer int, opts []Option) (*Heap, error) {
	h := &Heap{
		reg:    &region{data: data, release: release},
		root:   true,
		order:  binary.BigEndian,
		maxCap: DefaultMaxCapacity,
		writer: writer,
	}
	h.reg.refs.Store(1)
	for _, opt := range opts {
		opt(h)
	}
	if h.order == nil {
		h.order = binary.BigEndian
	}
	if h.maxCap < len(data) {
		return nil, api.Errorf(api.ErrCodeInvalidArgument,
			"initial capacity %d exceeds max capacity %d", len(data), h.maxCap)
	}
	return h, nil
}

func (h *Heap) Capacity() int {
	if h.root {
		return len(h.reg.data)
	}
	return h.length
}

func (h *Heap) MaxCapacity() int {
	if h.root {
		return h.maxCap
	}
	return h.length
}

func (h *Heap) Order() binary.ByteOrder { return h.order }

// SetCapacity reallocates storage. Growing keeps [reader, writer) at the same
// offsets. Shrinking clips the live region and clamps both indices.
// Slices have a fixed capacity.
func (h *Heap) SetCapacity(n int) error {
	if !h.root {
		return api.Errorf(api.ErrCodeNotSupported, "capacity of a sliced buffer is fixed")
	}
	if n < 0 || n > h.maxCap {
		slog.Warn("buffer: invalid new capacity", "capacity", n, "max", h.maxCap)
		return api.Errorf(api.ErrCodeInvalidArgument, "invalid new capacity %d (max %d)", n, h.maxCap)
	}
	old := h.reg.data
	if n == len(old) {
		return nil
	}
	data := make([]byte, n)
	if n > len(old) {
		copy(data[h.reader:h.writer], old[h.reader:h.writer])
	} else if h.reader < n {
		if h.writer > n {
			h.writer = n
		}
		copy(data[h.reader:h.writer], old[h.reader:h.writer])
	} else {
		h.reader, h.writer = n, n
	}
	// Borrowed views of old storage may still be held; it is not recycled.
	h.reg.data = data
	h.reg.release = nil
	return nil
}

func (h *Heap) ReaderIndex() int { return h.reader }
func (h *Heap) WriterIndex() int { return h.writer }

func (h *Heap) SetReaderIndex(i int) error {
	if i < 0 || i > h.writer {
		return h.indexErr("reader index", i)
	}
	h.reader = i
	return nil
}

func (h *Heap) SetWriterIndex(i int) error {
	if i < h.reader || i > h.Capacity() {
		return h.indexErr("writer index", i)
	}
	h.writer = i
	return nil
}

func (h *Heap) SetIndex(reader, writer int) error {
	if reader < 0 || reader > writer || writer > h.Capacity() {
		return api.Errorf(api.ErrCodeOutOfRange,
			"index pair (%d, %d) outside [0, %d]", reader, writer, h.Capacity())
	}
	h.reader, h.writer = reader, writer
	return nil
}

func (h *Heap) ReadableLen() int { return h.writer - h.reader }
func (h *Heap) WritableLen() int { return h.Capacity() - h.writer }
func (h *Heap) IsReadable() bool { return h.writer > h.reader }

// Clear resets both indices without touching content.
func (h *Heap) Clear() { h.reader, h.writer = 0, 0 }

// DiscardReadBytes moves the readable region to offset zero.
func (h *Heap) DiscardReadBytes() {
	if h.reader == 0 {
		return
	}
	if err := h.check(0, h.Capacity()); err != nil {
		return
	}
	base := h.reg.data[h.offset:]
	n := copy(base, base[h.reader:h.writer])
	h.reader, h.writer = 0, n
}

// EnsureWritable grows a root buffer so at least n bytes can be written.
func (h *Heap) EnsureWritable(n int) error {
	if n < 0 {
		return api.Errorf(api.ErrCodeInvalidArgument, "negative length %d", n)
	}
	if h.WritableLen() >= n {
		return nil
	}
	need := h.writer + n
	if !h.root || need > h.maxCap {
		return api.Errorf(api.ErrCodeOutOfRange,
			"cannot write %d bytes: writer %d, max capacity %d", n, h.writer, h.MaxCapacity())
	}
	newCap := max(64, h.Capacity())
	for newCap < need {
		newCap <<= 1
	}
	return h.SetCapacity(min(newCap, h.maxCap))
}

// check validates the absolute window [index, index+width) against both the
// view capacity and the live storage.
func (h *Heap) check(index, width int) error {
	if index < 0 || width < 0 || index > h.Capacity()-width ||
		h.offset+index+width > len(h.reg.data) {
		return api.Errorf(api.ErrCodeOutOfRange,
			"index %d length %d outside capacity %d", index, width, h.Capacity())
	}
	return nil
}

func (h *Heap) indexErr(what string, i int) error {
	return api.Errorf(api.ErrCodeOutOfRange, "%s %d out of range (reader %d, writer %d, capacity %d)",
		what, i, h.reader, h.writer, h.Capacity())
}

func (h *Heap) at(index int) []byte { return h.reg.data[h.offset+index:] }

func (h *Heap) GetByte(index int) (byte, error) {
	if err := h.check(index, 1); err != nil {
		return 0, err
	}
	return h.at(index)[0], nil
}

func (h *Heap) GetShort(index int) (int16, error) {
	if err := h.check(index, 2); err != nil {
		return 0, err
	}
	return int16(h.order.Uint16(h.at(index))), nil
}

func (h *Heap) GetInt(index int) (int32, error) {
	if err := h.check(index, 4); err != nil {
		return 0, err
	}
	return int32(h.order.Uint32(h.at(index))), nil
}

func (h *Heap) GetLong(index int) (int64, error) {
	if err := h.check(index, 8); err != nil {
		return 0, err
	}
	return int64(h.order.Uint64(h.at(index))), nil
}

func (h *Heap) SetByte(index int, v byte) error {
	if err := h.check(index, 1); err != nil {
		return err
	}
	h.at(index)[0] = v
	return nil
}

func (h *Heap) SetShort(index int, v int16) error {
	if err := h.check(index, 2); err != nil {
		return err
	}
	h.order.PutUint16(h.at(index), uint16(v))
	return nil
}

func (h *Heap) SetInt(index int, v int32) error {
	if err := h.check(index, 4); err != nil {
		return err
	}
	h.order.PutUint32(h.at(index), uint32(v))
	return nil
}

func (h *Heap) SetLong(index int, v int64) error {
	if err := h.check(index, 8); err != nil {
		return err
	}
	h.order.PutUint64(h.at(index), uint64(v))
	return nil
}

func (h *Heap) GetBytes(index int, dst Buffer, dstIndex, length int) (int, error) {
	if err := h.check(index, length); err != nil {
		return 0, err
	}
	if d, ok := dst.(*Heap); ok {
		if err := d.check(dstIndex, length); err != nil {
			return 0, err
		}
		return copy(d.at(dstIndex)[:length], h.at(index)[:length]), nil
	}
	return dst.SetBytesFrom(dstIndex, h.at(index)[:length])
}

func (h *Heap) GetBytesTo(index int, dst []byte) (int, error) {
	if err := h.check(index, len(dst)); err != nil {
		return 0, err
	}
	return copy(dst, h.at(index)), nil
}

func (h *Heap) GetBytesToWriter(index int, w io.Writer, length int) (int, error) {
	if err := h.check(index, length); err != nil {
		return 0, err
	}
	return w.Write(h.at(index)[:length])
}

func (h *Heap) SetBytes(index int, src Buffer, srcIndex, length int) (int, error) {
	if err := h.check(index, length); err != nil {
		return 0, err
	}
	if s, ok := src.(*Heap); ok {
		if err := s.check(srcIndex, length); err != nil {
			return 0, err
		}
		return copy(h.at(index)[:length], s.at(srcIndex)[:length]), nil
	}
	return src.GetBytesTo(srcIndex, h.at(index)[:length])
}

func (h *Heap) SetBytesFrom(index int, src []byte) (int, error) {
	if err := h.check(index, len(src)); err != nil {
		return 0, err
	}
	return copy(h.at(index), src), nil
}

func (h *Heap) SetBytesFromReader(index int, r io.Reader, length int) (int, error) {
	if err := h.check(index, length); err != nil {
		return 0, err
	}
	if length == 0 {
		return 0, nil
	}
	return io.ReadAtLeast(r, h.at(index)[:length], 1)
}

func (h *Heap) ReadableBytes() []byte {
	if h.check(h.reader, h.writer-h.reader) != nil {
		return nil
	}
	return h.reg.data[h.offset+h.reader : h.offset+h.writer : h.offset+h.writer]
}

func (h *Heap) WritableBytes() []byte {
	c := h.Capacity()
	if h.check(h.writer, c-h.writer) != nil {
		return nil
	}
	return h.reg.data[h.offset+h.writer : h.offset+c : h.offset+c]
}

// Slice returns a view sharing storage with h. Invalid windows yield Empty.
func (h *Heap) Slice(index, length int) Buffer {
	if index < 0 || length <= 0 || h.check(index, length) != nil {
		return Empty
	}
	h.reg.refs.Add(1)
	return &Heap{
		reg:    h.reg,
		offset: h.offset + index,
		length: length,
		order:  h.order,
		maxCap: length,
		writer: length,
	}
}

// Copy returns a buffer holding a private copy of [index, index+length).
func (h *Heap) Copy(index, length int) (Buffer, error) {
	if err := h.check(index, length); err != nil {
		return nil, err
	}
	data := make([]byte, length)
	copy(data, h.at(index))
	return newHeap(data, nil, length, []Option{WithOrder(h.order), WithMaxCapacity(max(length, h.MaxCapacity()))})
}

func (h *Heap) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if !h.IsReadable() {
		return 0, io.EOF
	}
	n := copy(p, h.ReadableBytes())
	h.reader += n
	return n, nil
}

func (h *Heap) ReadByte() (byte, error) {
	v, err := h.GetByte(h.reader)
	if err != nil || h.reader >= h.writer {
		return 0, io.EOF
	}
	h.reader++
	return v, nil
}

func (h *Heap) readable(n int) error {
	if n < 0 || h.ReadableLen() < n {
		return api.Errorf(api.ErrCodeOutOfRange, "need %d readable bytes, have %d", n, h.ReadableLen())
	}
	return nil
}

func (h *Heap) ReadShort() (int16, error) {
	if err := h.readable(2); err != nil {
		return 0, err
	}
	v, err := h.GetShort(h.reader)
	if err == nil {
		h.reader += 2
	}
	return v, err
}

func (h *Heap) ReadInt() (int32, error) {
	if err := h.readable(4); err != nil {
		return 0, err
	}
	v, err := h.GetInt(h.reader)
	if err == nil {
		h.reader += 4
	}
	return v, err
}

func (h *Heap) ReadLong() (int64, error) {
	if err := h.readable(8); err != nil {
		return 0, err
	}
	v, err := h.GetLong(h.reader)
	if err == nil {
		h.reader += 8
	}
	return v, err
}

// ReadSlice returns a shared view of the next n readable bytes.
func (h *Heap) ReadSlice(n int) (Buffer, error) {
	if err := h.readable(n); err != nil {
		return nil, err
	}
	s := h.Slice(h.reader, n)
	h.reader += n
	return s, nil
}

// ReadBytes returns a private copy of the next n readable bytes.
func (h *Heap) ReadBytes(n int) (Buffer, error) {
	if err := h.readable(n); err != nil {
		return nil, err
	}
	c, err := h.Copy(h.reader, n)
	if err != nil {
		return nil, err
	}
	h.reader += n
	return c, nil
}

func (h *Heap) Skip(n int) error {
	if err := h.readable(n); err != nil {
		return err
	}
	h.reader += n
	return nil
}

func (h *Heap) Write(p []byte) (int, error) {
	if err := h.EnsureWritable(len(p)); err != nil {
		return 0, err
	}
	n, err := h.SetBytesFrom(h.writer, p)
	h.writer += n
	return n, err
}

func (h *Heap) WriteByte(c byte) error {
	if err := h.EnsureWritable(1); err != nil {
		return err
	}
	if err := h.SetByte(h.writer, c); err != nil {
		return err
	}
	h.writer++
	return nil
}

func (h *Heap) WriteShort(v int16) error {
	if err := h.EnsureWritable(2); err != nil {
		return err
	}
	if err := h.SetShort(h.writer, v); err != nil {
		return err
	}
	h.writer += 2
	return nil
}

func (h *Heap) WriteInt(v int32) error {
	if err := h.EnsureWritable(4); err != nil {
		return err
	}
	if err := h.SetInt(h.writer, v); err != nil {
		return err
	}
	h.writer += 4
	return nil
}

func (h *Heap) WriteLong(v int64) error {
	if err := h.EnsureWritable(8); err != nil {
		return err
	}
	if err := h.SetLong(h.writer, v); err != nil {
		return err
	}
	h.writer += 8
	return nil
}

func (h *Heap) WriteBuffer(src Buffer) error {
	n := src.ReadableLen()
	if err := h.EnsureWritable(n); err != nil {
		return err
	}
	if _, err := h.SetBytes(h.writer, src, src.ReaderIndex(), n); err != nil {
		return err
	}
	h.writer += n
	return src.SetReaderIndex(src.ReaderIndex() + n)
}

// Retain increments the reference count of the shared storage.
func (h *Heap) Retain() Buffer {
	h.reg.refs.Add(1)
	return h
}

// Release drops one reference and recycles pooled storage at zero.
// It reports whether the storage was freed.
func (h *Heap) Release() bool {
	if h == Empty {
		return false
	}
	if h.reg.refs.Add(-1) != 0 {
		return false
	}
	if h.reg.release != nil {
		h.reg.release(h.reg.data)
		h.reg.release = nil
	}
	h.reg.data = nil
	return true
}

func (h *Heap) RefCnt() int { return int(h.reg.refs.Load()) }

func (h *Heap) String() string {
	kind := "Heap"
	if !h.root {
		kind = "Sliced"
	}
	return fmt.Sprintf("%s(ridx=%d, widx=%d, cap=%d)", kind, h.reader, h.writer, h.Capacity())
}

var _ Buffer = (*Heap)(nil)
