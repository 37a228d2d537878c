// File: pool/slab_pool.go
// Package pool implements lock-free slab allocation with size class support.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"sync/atomic"

	"code.hybscloud.com/lfq"
)

// freeList is the subset of the lfq queue contract the slab uses.
type freeList interface {
	Enqueue(elem *[]byte) error
	Dequeue() ([]byte, error)
}

// slabPool: fixed-size byte slices for a single size class.
type slabPool struct {
	size  int
	queue freeList

	totalAlloc atomic.Uint64
	totalFree  atomic.Uint64
	reused     atomic.Uint64
}

const defaultSlabCapacity = 1024

func newSlabPool(size, capacity int) *slabPool {
	if capacity < 2 {
		capacity = 2
	}
	return &slabPool{
		size:  size,
		queue: lfq.NewMPMC[[]byte](capacity),
	}
}

func (sp *slabPool) get() []byte {
	if buf, err := sp.queue.Dequeue(); err == nil {
		sp.reused.Add(1)
		return buf[:sp.size]
	}
	sp.totalAlloc.Add(1)
	return make([]byte, sp.size)
}

// put returns false when the free list is full; the slice is then left to the GC.
func (sp *slabPool) put(buf []byte) bool {
	buf = buf[:sp.size]
	clear(buf)
	if err := sp.queue.Enqueue(&buf); err != nil {
		return false
	}
	sp.totalFree.Add(1)
	return true
}

func (sp *slabPool) stats() ClassStats {
	return ClassStats{
		Size:       sp.size,
		TotalAlloc: int64(sp.totalAlloc.Load()),
		TotalFree:  int64(sp.totalFree.Load()),
		Reused:     int64(sp.reused.Load()),
	}
}
