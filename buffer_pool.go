package go_oscar

import "sync"

// transferChunkSize is the unit file transfers move data in.
const transferChunkSize = 32 * 1024

// bufferPool recycles transfer chunks so long file transfers do not
// churn the allocator.
type bufferPool struct {
	pool sync.Pool
	size int
}

func newBufferPool(size int) *bufferPool {
	return &bufferPool{
		size: size,
		pool: sync.Pool{
			New: func() interface{} {
				b := make([]byte, size)
				return &b
			},
		},
	}
}

// Get returns a full-size chunk buffer.
func (p *bufferPool) Get() []byte {
	return *(p.pool.Get().(*[]byte))
}

// Put returns a buffer to the pool. Buffers of the wrong size are
// dropped rather than poisoning the pool.
func (p *bufferPool) Put(b []byte) {
	if cap(b) != p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}

var transferBuffers = newBufferPool(transferChunkSize)
