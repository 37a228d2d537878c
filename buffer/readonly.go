// File: buffer/readonly.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package buffer

import (
	"io"

	"github.com/momentics/hioload-pipeline/api"
)

var errReadOnly = api.NewError(api.ErrCodeNotSupported, "buffer is read-only")

// readOnly rejects every content mutation. Index movement is still allowed.
type readOnly struct {
	Buffer
}

// ReadOnly wraps b so that writes through the wrapper fail.
func ReadOnly(b Buffer) Buffer {
	if r, ok := b.(*readOnly); ok {
		return r
	}
	return &readOnly{Buffer: b}
}

func (r *readOnly) SetCapacity(int) error                       { return errReadOnly }
func (r *readOnly) EnsureWritable(int) error                    { return errReadOnly }
func (r *readOnly) DiscardReadBytes()                           {}
func (r *readOnly) SetByte(int, byte) error                     { return errReadOnly }
func (r *readOnly) SetShort(int, int16) error                   { return errReadOnly }
func (r *readOnly) SetInt(int, int32) error                     { return errReadOnly }
func (r *readOnly) SetLong(int, int64) error                    { return errReadOnly }
func (r *readOnly) SetBytes(int, Buffer, int, int) (int, error) { return 0, errReadOnly }
func (r *readOnly) SetBytesFrom(int, []byte) (int, error)       { return 0, errReadOnly }
func (r *readOnly) SetBytesFromReader(int, io.Reader, int) (int, error) {
	return 0, errReadOnly
}
func (r *readOnly) WritableBytes() []byte     { return nil }
func (r *readOnly) Write([]byte) (int, error) { return 0, errReadOnly }
func (r *readOnly) WriteByte(byte) error      { return errReadOnly }
func (r *readOnly) WriteShort(int16) error    { return errReadOnly }
func (r *readOnly) WriteInt(int32) error      { return errReadOnly }
func (r *readOnly) WriteLong(int64) error     { return errReadOnly }
func (r *readOnly) WriteBuffer(Buffer) error  { return errReadOnly }

func (r *readOnly) Slice(index, length int) Buffer {
	s := r.Buffer.Slice(index, length)
	if s == Empty {
		return s
	}
	return ReadOnly(s)
}

func (r *readOnly) ReadSlice(n int) (Buffer, error) {
	s, err := r.Buffer.ReadSlice(n)
	if err != nil {
		return nil, err
	}
	return ReadOnly(s), nil
}

func (r *readOnly) Retain() Buffer {
	r.Buffer.Retain()
	return r
}

func (r *readOnly) String() string { return "ReadOnly" + r.Buffer.String() }
