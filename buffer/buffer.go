// File: buffer/buffer.go
// Package buffer implements random-access byte containers with independent
// reader and writer indices.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Invariant for every buffer: 0 <= ReaderIndex <= WriterIndex <= Capacity.
// Multi-byte accessors honour the buffer's byte order. A buffer is not safe
// for concurrent mutation; it is owned by a single executor at a time.

package buffer

import (
	"encoding/binary"
	"io"
)

// Buffer is the contract shared by heap, sliced and wrapped buffers.
type Buffer interface {
	io.Reader
	io.Writer
	io.ByteReader
	io.ByteWriter

	Capacity() int
	MaxCapacity() int
	// SetCapacity grows or shrinks the storage, preserving the live region.
	SetCapacity(n int) error
	Order() binary.ByteOrder

	ReaderIndex() int
	WriterIndex() int
	SetReaderIndex(i int) error
	SetWriterIndex(i int) error
	SetIndex(reader, writer int) error
	ReadableLen() int
	WritableLen() int
	IsReadable() bool
	Clear()
	DiscardReadBytes()
	EnsureWritable(n int) error

	GetByte(index int) (byte, error)
	GetShort(index int) (int16, error)
	GetInt(index int) (int32, error)
	GetLong(index int) (int64, error)
	SetByte(index int, v byte) error
	SetShort(index int, v int16) error
	SetInt(index int, v int32) error
	SetLong(index int, v int64) error

	// GetBytes copies length bytes at index into dst at dstIndex.
	GetBytes(index int, dst Buffer, dstIndex, length int) (int, error)
	// GetBytesTo copies len(dst) bytes at index into dst.
	GetBytesTo(index int, dst []byte) (int, error)
	// GetBytesToWriter streams length bytes at index into w.
	GetBytesToWriter(index int, w io.Writer, length int) (int, error)
	SetBytes(index int, src Buffer, srcIndex, length int) (int, error)
	SetBytesFrom(index int, src []byte) (int, error)
	// SetBytesFromReader fills up to length bytes at index from r and
	// returns the number of bytes transferred.
	SetBytesFromReader(index int, r io.Reader, length int) (int, error)

	// ReadableBytes is a view over [ReaderIndex, WriterIndex).
	ReadableBytes() []byte
	// WritableBytes is a view over [WriterIndex, Capacity).
	WritableBytes() []byte

	Slice(index, length int) Buffer
	Copy(index, length int) (Buffer, error)

	ReadShort() (int16, error)
	ReadInt() (int32, error)
	ReadLong() (int64, error)
	ReadSlice(n int) (Buffer, error)
	ReadBytes(n int) (Buffer, error)
	Skip(n int) error
	WriteShort(v int16) error
	WriteInt(v int32) error
	WriteLong(v int64) error
	// WriteBuffer appends the readable bytes of src and consumes them.
	WriteBuffer(src Buffer) error

	Retain() Buffer
	Release() bool
	RefCnt() int

	String() string
}

// DefaultMaxCapacity bounds growth when no explicit maximum is given.
const DefaultMaxCapacity = 1<<31 - 1

// Empty is the canonical zero-capacity buffer.
var Empty Buffer = &Heap{reg: &region{}, root: true, order: binary.BigEndian}

// Bytes copies the readable region of b into a fresh slice.
func Bytes(b Buffer) []byte {
	out := make([]byte, b.ReadableLen())
	copy(out, b.ReadableBytes())
	return out
}

// Equal reports whether a and b hold identical readable bytes.
func Equal(a, b Buffer) bool {
	ra, rb := a.ReadableBytes(), b.ReadableBytes()
	if len(ra) != len(rb) {
		return false
	}
	for i := range ra {
		if ra[i] != rb[i] {
			return false
		}
	}
	return true
}
