package readback

import (
	"fmt"
	"time"

	"github.com/gogpu/gpucontext"
	"go.uber.org/atomic"
)

// Coordinator owns the staging buffer pool and the FIFO queue of pending
// requests, and is bound to the one thread that may issue GPU commands
// (the driver thread).
//
// Thread model:
//   - NewCoordinator, Submit, Drain and Close run on the driver thread.
//   - Request.Get, Request.Wait and Request.Cancel run on any goroutine.
//   - Drain must be called periodically (typically once per frame): it is
//     the only place that completes requests for goroutines other than
//     the driver thread.
//
// The driver thread is identified by OS thread ID, so the goroutine that
// constructs the Coordinator must call runtime.LockOSThread first and stay
// locked. DriverLoop does this for you.
type Coordinator struct {
	dev     Device
	pool    *TransferBufferPool
	pending []*Request

	driver      uint64
	threadID    func() uint64
	threadCheck bool
	flushHint   bool

	closed atomic.Bool
	stats  counters
}

// NewCoordinator creates a Coordinator that issues commands through dev
// and binds the calling thread as its driver thread.
func NewCoordinator(dev Device, opts ...Option) *Coordinator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	c := &Coordinator{
		dev:         dev,
		pool:        NewTransferBufferPool(dev),
		threadID:    o.threadID,
		threadCheck: o.threadCheck,
		flushHint:   o.flushHint,
	}
	c.driver = c.threadID()
	Logger().Info("readback: coordinator created", "driverThread", c.driver)
	return c
}

// DriverThread returns the thread ID recorded at construction.
func (c *Coordinator) DriverThread() uint64 { return c.driver }

// OnDriverThread reports whether the caller runs on the driver thread.
func (c *Coordinator) OnDriverThread() bool {
	return c.threadID() == c.driver
}

// checkDriver asserts that the caller may issue GPU commands.
func (c *Coordinator) checkDriver() error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.threadCheck && !c.OnDriverThread() {
		return ErrWrongThread
	}
	return nil
}

// Submit starts an asynchronous transfer of src into dst.
//
// dst must be exactly src.Width() × src.Height() × BytesPerPixel bytes;
// otherwise Submit fails with ErrInvalidArgument and nothing is queued.
// dst is owned by the caller: the coordinator writes into it once the
// GPU has produced the data and never retains it past the request.
//
// Submit records the copy into a pooled staging buffer, inserts a fence
// behind it, and returns immediately without waiting for the GPU.
func (c *Coordinator) Submit(src gpucontext.Texture, dst []byte) (*Request, error) {
	if err := c.checkDriver(); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("%w: nil source image", ErrInvalidArgument)
	}
	w, h := src.Width(), src.Height()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: source image is %dx%d", ErrInvalidArgument, w, h)
	}
	size := w * h * BytesPerPixel
	if len(dst) != size {
		return nil, fmt.Errorf("%w: destination is %d bytes, %dx%d image needs %d",
			ErrInvalidArgument, len(dst), w, h, size)
	}

	buf, err := c.pool.Acquire(size)
	if err != nil {
		return nil, fmt.Errorf("readback: %w", err)
	}
	if err := c.dev.CopyImageToBuffer(src, buf.handle); err != nil {
		c.pool.Release(buf)
		return nil, fmt.Errorf("readback: copy image to staging buffer: %w", err)
	}
	fence, err := c.dev.InsertFence()
	if err != nil {
		c.pool.Release(buf)
		return nil, fmt.Errorf("readback: insert fence: %w", err)
	}

	r := newRequest(c, w, h, dst, buf, fence)
	c.pending = append(c.pending, r)
	c.stats.submitted.Inc()
	c.stats.pending.Inc()
	Logger().Debug("readback: request submitted",
		"id", r.id, "width", w, "height", h, "staging", buf.handle, "fence", fence)
	return r, nil
}

// Drain polls the fence of every queued request, oldest first, without
// blocking. Each signaled request has its staging buffer copied into its
// destination and is marked completed, waking any waiters. Requests that
// are completed, cancelled or failed are then removed from the queue,
// their staging buffers returned to the pool and their fences deleted.
//
// Drain only returns an error for a thread or lifecycle violation; native
// failures are reported through the affected requests.
func (c *Coordinator) Drain() error {
	if err := c.checkDriver(); err != nil {
		return err
	}

	kept := c.pending[:0]
	for _, r := range c.pending {
		if !r.terminal() {
			flush := c.flushHint && r.Waiters() > 0
			signaled, err := c.dev.WaitFence(r.fence, 0, flush)
			switch {
			case err != nil:
				c.failRequest(r, err)
			case signaled:
				_ = c.copyOut(r)
			}
		}
		if r.terminal() {
			c.reclaim(r)
			continue
		}
		kept = append(kept, r)
	}
	clear(c.pending[len(kept):])
	c.pending = kept
	c.stats.pending.Store(int64(len(kept)))
	return nil
}

// getOnDriver is Request.Get on the driver thread: a flushing native wait
// on the request's fence, then the same copy Drain performs. The request
// stays queued; the next Drain reclaims its resources.
func (c *Coordinator) getOnDriver(r *Request, timeout time.Duration) ([]byte, error) {
	r.mu.Lock()
	data, err, ok := r.resultLocked()
	r.mu.Unlock()
	if ok {
		return data, err
	}
	if c.closed.Load() {
		return nil, ErrClosed
	}

	signaled, werr := c.dev.WaitFence(r.fence, timeout, true)
	if werr != nil {
		return nil, c.failRequest(r, werr)
	}
	if !signaled {
		c.stats.timeouts.Inc()
		return nil, ErrTimeout
	}
	if err := c.copyOut(r); err != nil {
		return nil, err
	}
	return r.dst, nil
}

// copyOut copies the staging buffer of a signaled request into its
// destination and completes it. A cancellation that landed before the
// copy started wins; one that lands during the copy loses.
func (c *Coordinator) copyOut(r *Request) error {
	if !r.beginCopy() {
		r.mu.Lock()
		_, err, _ := r.resultLocked()
		r.mu.Unlock()
		return err
	}
	if err := c.dev.ReadBuffer(r.buf.handle, r.dst); err != nil {
		return c.failRequest(r, err)
	}
	r.finishCopy()
	c.stats.completed.Inc()
	Logger().Debug("readback: request completed", "id", r.id)
	return nil
}

// failRequest records a native failure on r and returns the error that
// its Get calls will report from now on.
func (c *Coordinator) failRequest(r *Request, cause error) error {
	err := fmt.Errorf("%w: request %s: %w", ErrNativeSync, r.id, cause)
	if r.fail(err) {
		c.stats.failed.Inc()
		Logger().Warn("readback: request failed", "id", r.id, "fence", r.fence, "err", cause)
		return err
	}
	r.mu.Lock()
	_, rerr, _ := r.resultLocked()
	r.mu.Unlock()
	return rerr
}

// reclaim returns the resources of a terminal request.
func (c *Coordinator) reclaim(r *Request) {
	c.pool.Release(r.buf)
	r.buf = nil
	if !r.fence.IsZero() {
		c.dev.DeleteFence(r.fence)
		r.fence = Fence{}
	}
	Logger().Debug("readback: request reclaimed", "id", r.id)
}

// Get is shorthand for r.Get(timeout).
func (c *Coordinator) Get(r *Request, timeout time.Duration) ([]byte, error) {
	return r.Get(timeout)
}

// Cancel is shorthand for r.Cancel().
func (c *Coordinator) Cancel(r *Request) bool {
	return r.Cancel()
}

// Pending returns the number of queued requests as of the last Submit or
// Drain. Safe from any goroutine.
func (c *Coordinator) Pending() int {
	return int(c.stats.pending.Load())
}

// Pool returns the staging buffer pool. Its Acquire and Release methods
// belong to the driver thread.
func (c *Coordinator) Pool() *TransferBufferPool { return c.pool }

// Stats returns a snapshot of the coordinator counters. Safe from any
// goroutine.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Submitted: c.stats.submitted.Load(),
		Completed: c.stats.completed.Load(),
		Cancelled: c.stats.cancelled.Load(),
		Failed:    c.stats.failed.Load(),
		Timeouts:  c.stats.timeouts.Load(),
		Pending:   int(c.stats.pending.Load()),
		Pool:      c.pool.Stats(),
	}
}

// Close cancels every queued request, deletes their fences and destroys
// all staging buffers. Waiters blocked in Get are woken with ErrCancelled.
// Close must run on the driver thread; a second Close returns nil.
func (c *Coordinator) Close() error {
	if c.threadCheck && !c.OnDriverThread() {
		return ErrWrongThread
	}
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	for _, r := range c.pending {
		r.Cancel()
		c.reclaim(r)
	}
	clear(c.pending)
	c.pending = nil
	c.stats.pending.Store(0)

	var err error
	if perr := c.pool.Close(); perr != nil {
		err = fmt.Errorf("readback: close pool: %w", perr)
	}
	Logger().Info("readback: coordinator closed", "stats", c.Stats().String())
	return err
}
