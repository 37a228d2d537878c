package pool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-pipeline/pool"
)

func TestBytePoolReuse(t *testing.T) {
	p := pool.NewBytePool()
	b1 := p.Get(300)
	require.Len(t, b1, 300)
	assert.Equal(t, 512, cap(b1))
	b1[0] = 0xff
	p.Put(b1)

	b2 := p.Get(400)
	require.Len(t, b2, 400)
	assert.Equal(t, 512, cap(b2))
	assert.Equal(t, byte(0), b2[0], "recycled slices are zeroed")

	var reused int64
	for _, c := range p.Stats().Classes {
		if c.Size == 512 {
			reused = c.Reused
		}
	}
	assert.Equal(t, int64(1), reused)
}

func TestBytePoolOversized(t *testing.T) {
	p := pool.NewBytePool()
	b := p.Get(pool.MaxClassSize + 1)
	assert.Len(t, b, pool.MaxClassSize+1)
	p.Put(b)
	assert.Equal(t, int64(1), p.Stats().Oversized)
}

func TestBytePoolRejectsForeignSlices(t *testing.T) {
	p := pool.NewBytePool()
	p.Put(make([]byte, 300))
	for _, c := range p.Stats().Classes {
		assert.Zero(t, c.TotalFree, "class %d", c.Size)
	}
}

func TestBytePoolClassBoundaries(t *testing.T) {
	p := pool.NewBytePool()
	for _, tc := range []struct{ size, class int }{
		{0, 256}, {1, 256}, {256, 256}, {257, 512}, {1024, 1024}, {1025, 2048}, {pool.MaxClassSize, pool.MaxClassSize},
	} {
		b := p.Get(tc.size)
		assert.Equal(t, tc.class, cap(b), "size %d", tc.size)
	}
}
