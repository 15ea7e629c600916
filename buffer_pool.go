package readback

import (
	"fmt"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

// TransferBuffer is one native staging buffer owned by a TransferBufferPool.
// While checked out it belongs to exactly one Request.
type TransferBuffer struct {
	handle BufferHandle
	size   int // -1 until first sized
	pooled bool
}

// Handle returns the native buffer handle, or InvalidBuffer.
func (b *TransferBuffer) Handle() BufferHandle { return b.handle }

// Size returns the allocated size in bytes, or -1 if never allocated.
func (b *TransferBuffer) Size() int { return b.size }

// PoolStats contains staging buffer pool counters.
type PoolStats struct {
	// Live is the number of native buffers created and not yet destroyed.
	Live int

	// Free is the number of buffers waiting on the free list.
	Free int

	// Created is the total number of native buffers created.
	Created uint64

	// Reused is the number of acquisitions served from the free list.
	Reused uint64

	// Resized is the number of native storage reallocations.
	Resized uint64
}

// String returns a human-readable string of pool stats.
func (s PoolStats) String() string {
	return fmt.Sprintf("Pool[%d live, %d free, %d created, %d reused, %d resized]",
		s.Live, s.Free, s.Created, s.Reused, s.Resized)
}

// TransferBufferPool recycles native staging buffers so that a readback
// does not allocate GPU memory per request.
//
// Acquire and Release are only called from the driver thread (by Submit
// and Drain), so the free list itself is not locked. The counters are
// atomic so Stats may be read from any goroutine.
type TransferBufferPool struct {
	dev  Device
	free []*TransferBuffer
	all  []*TransferBuffer

	live    atomic.Int64
	nfree   atomic.Int64
	created atomic.Uint64
	reused  atomic.Uint64
	resized atomic.Uint64
}

// NewTransferBufferPool creates an empty pool that allocates from dev.
func NewTransferBufferPool(dev Device) *TransferBufferPool {
	return &TransferBufferPool{dev: dev}
}

// Acquire returns a buffer holding exactly size bytes of native storage.
// The most recently released buffer is reused first; if the free list is
// empty a new native buffer is created. A reused buffer whose recorded
// size differs from size is reallocated in place.
func (p *TransferBufferPool) Acquire(size int) (*TransferBuffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: staging size %d", ErrInvalidArgument, size)
	}

	var b *TransferBuffer
	if n := len(p.free); n > 0 {
		b = p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.nfree.Dec()
		p.reused.Inc()
	} else {
		h, err := p.dev.CreateBuffer()
		if err != nil {
			return nil, fmt.Errorf("create staging buffer: %w", err)
		}
		b = &TransferBuffer{handle: h, size: -1}
		p.all = append(p.all, b)
		p.live.Inc()
		p.created.Inc()
		Logger().Debug("readback: staging buffer created", "handle", h)
	}
	b.pooled = false

	if b.size != size {
		if err := p.dev.ResizeBuffer(b.handle, size); err != nil {
			// The buffer keeps its old storage and goes back to the free list.
			p.Release(b)
			return nil, fmt.Errorf("resize staging buffer %d to %d bytes: %w", b.handle, size, err)
		}
		Logger().Debug("readback: staging buffer resized", "handle", b.handle, "from", b.size, "to", size)
		b.size = size
		p.resized.Inc()
	}
	return b, nil
}

// Release returns b to the free list. Releasing a buffer that is already
// on the free list, or a nil buffer, does nothing.
func (p *TransferBufferPool) Release(b *TransferBuffer) {
	if b == nil || b.pooled {
		return
	}
	b.pooled = true
	p.free = append(p.free, b)
	p.nfree.Inc()
}

// Len returns the number of buffers on the free list.
func (p *TransferBufferPool) Len() int { return int(p.nfree.Load()) }

// Live returns the number of native buffers owned by the pool,
// whether free or checked out.
func (p *TransferBufferPool) Live() int { return int(p.live.Load()) }

// Stats returns a snapshot of the pool counters. Safe from any goroutine.
func (p *TransferBufferPool) Stats() PoolStats {
	return PoolStats{
		Live:    int(p.live.Load()),
		Free:    int(p.nfree.Load()),
		Created: p.created.Load(),
		Reused:  p.reused.Load(),
		Resized: p.resized.Load(),
	}
}

// Close destroys every native buffer the pool ever created, including
// buffers still checked out. Must be called on the driver thread.
func (p *TransferBufferPool) Close() error {
	var err error
	for _, b := range p.all {
		if b.handle == InvalidBuffer {
			continue
		}
		if derr := p.dev.DestroyBuffer(b.handle); derr != nil {
			err = multierr.Append(err, fmt.Errorf("destroy staging buffer %d: %w", b.handle, derr))
		}
		b.handle = InvalidBuffer
		b.size = -1
	}
	p.all = nil
	p.free = nil
	p.live.Store(0)
	p.nfree.Store(0)
	return err
}
