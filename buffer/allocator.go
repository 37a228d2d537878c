// File: buffer/allocator.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package buffer

import (
	"encoding/binary"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/pool"
)

// Allocator produces buffers for transports and codecs.
type Allocator interface {
	Allocate(capacity int) (Buffer, error)
}

// Unpooled allocates fresh heap storage for every buffer.
type Unpooled struct {
	Order binary.ByteOrder
}

func (u Unpooled) Allocate(capacity int) (Buffer, error) {
	return New(capacity, WithOrder(u.Order))
}

// Pooled draws storage from a size-classed BytePool. The storage returns to
// the pool when the last reference is released.
type Pooled struct {
	pool  *pool.BytePool
	order binary.ByteOrder
}

// NewPooled creates an allocator over p, or the process-wide pool when p is nil.
func NewPooled(p *pool.BytePool, order binary.ByteOrder) *Pooled {
	if p == nil {
		p = pool.Default()
	}
	return &Pooled{pool: p, order: order}
}

func (a *Pooled) Allocate(capacity int) (Buffer, error) {
	if capacity < 0 {
		return nil, api.Errorf(api.ErrCodeInvalidArgument, "negative capacity %d", capacity)
	}
	data := a.pool.Get(capacity)
	h, err := newHeap(data, a.pool.Put, 0, []Option{WithOrder(a.order)})
	if err != nil {
		return nil, err
	}
	return h, nil
}
