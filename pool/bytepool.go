// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>

package pool

import (
	"math/bits"
	"sync"
)

const (
	// MinClassSize is the smallest slab size class.
	MinClassSize = 256
	// MaxClassSize is the largest pooled size; larger requests bypass the pool.
	MaxClassSize = 1 << 20
)

// ClassStats reports counters of one size class.
type ClassStats struct {
	Size       int
	TotalAlloc int64
	TotalFree  int64
	Reused     int64
}

// Stats aggregates the counters of every size class.
type Stats struct {
	Classes   []ClassStats
	Oversized int64
}

// BytePool hands out byte slices rounded up to power-of-two size classes.
// Get and Put are safe for concurrent use.
type BytePool struct {
	classes   []*slabPool
	oversized sync.Mutex
	overCount int64
}

// Option configures a BytePool.
type Option func(*options)

type options struct {
	slabCapacity int
}

// WithSlabCapacity bounds the number of idle slices kept per size class.
func WithSlabCapacity(n int) Option {
	return func(o *options) { o.slabCapacity = n }
}

// NewBytePool creates a pool with classes from MinClassSize to MaxClassSize.
func NewBytePool(opts ...Option) *BytePool {
	o := options{slabCapacity: defaultSlabCapacity}
	for _, opt := range opts {
		opt(&o)
	}
	p := &BytePool{}
	for size := MinClassSize; size <= MaxClassSize; size <<= 1 {
		p.classes = append(p.classes, newSlabPool(size, o.slabCapacity))
	}
	return p
}

func classIndex(size int) int {
	if size <= MinClassSize {
		return 0
	}
	return bits.Len(uint(size-1)) - bits.Len(uint(MinClassSize-1))
}

// Get returns a zeroed slice with len == size.
func (p *BytePool) Get(size int) []byte {
	if size < 0 {
		size = 0
	}
	if size > MaxClassSize {
		p.oversized.Lock()
		p.overCount++
		p.oversized.Unlock()
		return make([]byte, size)
	}
	return p.classes[classIndex(size)].get()[:size]
}

// Put recycles b. Slices whose capacity is not an exact class size are dropped.
func (p *BytePool) Put(b []byte) {
	c := cap(b)
	if c < MinClassSize || c > MaxClassSize || c&(c-1) != 0 {
		return
	}
	p.classes[classIndex(c)].put(b[:c])
}

// Stats returns a snapshot of the per-class counters.
func (p *BytePool) Stats() Stats {
	st := Stats{Classes: make([]ClassStats, 0, len(p.classes))}
	for _, c := range p.classes {
		st.Classes = append(st.Classes, c.stats())
	}
	p.oversized.Lock()
	st.Oversized = p.overCount
	p.oversized.Unlock()
	return st
}

var (
	defaultOnce sync.Once
	defaultPool *BytePool
)

// Default returns a process-wide BytePool so components share slabs.
func Default() *BytePool {
	defaultOnce.Do(func() {
		defaultPool = NewBytePool()
	})
	return defaultPool
}
