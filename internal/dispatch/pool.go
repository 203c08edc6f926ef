// Package dispatch implements the producer loop of surge: a fixed pool of
// buffers, a rate controller for the rolling target, and a FIFO of in-flight
// sink operations that provides backpressure.
//
// One goroutine owns the loop. Each filled buffer is handed to its own
// dispatch goroutine and comes back to the pool when the sink operation
// finishes, so at most Parallelism operations are ever in flight.
package dispatch

import (
	"bytes"
	"sync/atomic"

	"github.com/ajitpratap0/surge/pkg/errors"
)

// Buffer is a reusable payload buffer owned by a BufferPool.
type Buffer struct {
	bytes.Buffer
	id int
}

// ID identifies the buffer within its pool.
func (b *Buffer) ID() int {
	return b.id
}

// BufferPool holds a fixed number of buffers. Acquire and release are
// channel operations, so concurrent releases from dispatch goroutines never
// race with the producer.
type BufferPool struct {
	free        chan *Buffer
	size        int
	outstanding atomic.Int64
}

// NewBufferPool creates a pool of size buffers, each with initialCap bytes
// preallocated.
func NewBufferPool(size, initialCap int) *BufferPool {
	if size < 1 {
		size = 1
	}
	p := &BufferPool{
		free: make(chan *Buffer, size),
		size: size,
	}
	for i := 0; i < size; i++ {
		b := &Buffer{id: i}
		if initialCap > 0 {
			b.Grow(initialCap)
		}
		p.free <- b
	}
	return p
}

// Size returns the number of buffers in the pool.
func (p *BufferPool) Size() int {
	return p.size
}

// Outstanding returns the number of acquired, unreleased buffers.
func (p *BufferPool) Outstanding() int {
	return int(p.outstanding.Load())
}

// TryAcquire returns a free buffer without blocking. Waiting for one is the
// caller's job, done by awaiting the oldest in-flight operation.
func (p *BufferPool) TryAcquire() (*Buffer, bool) {
	select {
	case b := <-p.free:
		p.outstanding.Add(1)
		return b, true
	default:
		return nil, false
	}
}

// Release resets b and returns it to the pool. Releasing more buffers than
// the pool holds is a capacity violation.
func (p *BufferPool) Release(b *Buffer) error {
	if b == nil {
		return nil
	}
	b.Reset()
	p.outstanding.Add(-1)
	select {
	case p.free <- b:
		return nil
	default:
		p.outstanding.Add(1)
		return errors.Newf(errors.ErrorTypeCapacity, "buffer %d released to a full pool", b.id).
			WithDetail("pool_size", p.size)
	}
}
