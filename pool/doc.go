// Package pool
// Author: momentics <momentics@gmail.com>
//
// Memory layer for hioload-pipeline.
// Size-classed byte slabs backed by lock-free free lists, used as the
// storage source for pooled channel buffers.
// See slab_pool.go and bytepool.go for implementation details.
package pool
