package software

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/readback"
)

// Software device errors.
var (
	// ErrUnknownBuffer is returned for a buffer handle the device never
	// created or already destroyed.
	ErrUnknownBuffer = errors.New("software: unknown buffer")

	// ErrUnknownFence is returned for a fence the device did not insert.
	ErrUnknownFence = errors.New("software: unknown fence")

	// ErrUnsupportedImage is returned when the copy source is not an *Image.
	ErrUnsupportedImage = errors.New("software: source is not a software image")

	// ErrBufferTooSmall is returned when a copy or read does not fit the
	// buffer storage.
	ErrBufferTooSmall = errors.New("software: buffer too small")

	// ErrDeviceClosed is returned by operations after Close.
	ErrDeviceClosed = errors.New("software: device closed")
)

// DefaultLatency is the simulated execution time of one fenced batch.
const DefaultLatency = 2 * time.Millisecond

// Config configures a software Device.
type Config struct {
	// Latency is how long the simulated GPU takes to execute each fenced
	// batch of commands. A flushing WaitFence skips the remaining latency
	// of the batch in progress.
	Latency time.Duration

	// Manual disables the simulated GPU. Fences then only signal through
	// Signal and SignalAll, which lets tests decide exactly when the GPU
	// "finishes".
	Manual bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{Latency: DefaultLatency}
}

// Stats contains device counters.
type Stats struct {
	BuffersCreated   int
	BuffersResized   int
	BuffersDestroyed int
	BuffersLive      int
	FencesInserted   int
	FencesLive       int
	BatchesExecuted  int
	Flushes          int
}

// String returns a human-readable string of device stats.
func (s Stats) String() string {
	return fmt.Sprintf("Software[buffers %d live (%d created, %d resized, %d destroyed), fences %d live (%d inserted), %d batches, %d flushes]",
		s.BuffersLive, s.BuffersCreated, s.BuffersResized, s.BuffersDestroyed,
		s.FencesLive, s.FencesInserted, s.BatchesExecuted, s.Flushes)
}

// fence is the native object behind a readback.HandleFence.
type fence struct {
	id       uint64
	signaled chan struct{}
}

// copyCmd is a recorded image-to-buffer copy. pix is a snapshot of the
// source taken at record time, like a GPU copy reading the image as it
// was when the command was issued.
type copyCmd struct {
	dst readback.BufferHandle
	pix []byte
}

// batch is the unit of simulated GPU work: every command recorded before
// a fence, followed by that fence.
type batch struct {
	cmds  []copyCmd
	fence *fence
}

// Device is an in-process readback.Device. Staging buffers are byte
// slices, and the command stream is a FIFO of batches executed by a
// worker goroutine (or by Signal in manual mode).
//
// The readback methods are meant for the coordinator's driver thread;
// Signal, SignalAll, SetWaitError and Stats may be called from anywhere.
type Device struct {
	cfg Config

	mu       sync.Mutex
	buffers  map[readback.BufferHandle][]byte
	fences   map[*fence]struct{}
	recorded []copyCmd
	queue    []*batch
	nextBuf  readback.BufferHandle
	nextID   uint64
	waitErr  error
	closed   bool
	stats    Stats

	notify chan struct{}
	flushc chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup
}

// New creates a software device. Unless cfg.Manual is set, a worker
// goroutine executes batches until Close.
func New(cfg Config) *Device {
	if cfg.Latency < 0 {
		cfg.Latency = 0
	}
	d := &Device{
		cfg:     cfg,
		buffers: make(map[readback.BufferHandle][]byte),
		fences:  make(map[*fence]struct{}),
		nextBuf: 1,
		notify:  make(chan struct{}, 1),
		flushc:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	if !cfg.Manual {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

// CreateBuffer creates a staging buffer with no storage.
func (d *Device) CreateBuffer() (readback.BufferHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return readback.InvalidBuffer, ErrDeviceClosed
	}
	h := d.nextBuf
	d.nextBuf++
	d.buffers[h] = nil
	d.stats.BuffersCreated++
	d.stats.BuffersLive++
	return h, nil
}

// ResizeBuffer replaces the storage of h with size zeroed bytes.
func (d *Device) ResizeBuffer(h readback.BufferHandle, size int) error {
	if size <= 0 {
		return fmt.Errorf("software: resize buffer %d to %d bytes: %w", h, size, readback.ErrInvalidArgument)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.buffers[h]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBuffer, h)
	}
	d.buffers[h] = make([]byte, size)
	d.stats.BuffersResized++
	return nil
}

// DestroyBuffer deletes h.
func (d *Device) DestroyBuffer(h readback.BufferHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.buffers[h]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBuffer, h)
	}
	delete(d.buffers, h)
	d.stats.BuffersDestroyed++
	d.stats.BuffersLive--
	return nil
}

// CopyImageToBuffer records a copy of src into h. The bytes land in h
// when the batch closed by the next InsertFence executes.
func (d *Device) CopyImageToBuffer(src gpucontext.Texture, h readback.BufferHandle) error {
	img, ok := src.(*Image)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnsupportedImage, src)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDeviceClosed
	}
	storage, ok := d.buffers[h]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBuffer, h)
	}
	if len(storage) < len(img.Pix) {
		return fmt.Errorf("%w: buffer %d holds %d bytes, image needs %d",
			ErrBufferTooSmall, h, len(storage), len(img.Pix))
	}
	d.recorded = append(d.recorded, copyCmd{dst: h, pix: append([]byte(nil), img.Pix...)})
	return nil
}

// InsertFence closes the current batch with a new fence and queues it
// for execution.
func (d *Device) InsertFence() (readback.Fence, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return readback.Fence{}, ErrDeviceClosed
	}
	d.nextID++
	f := &fence{id: d.nextID, signaled: make(chan struct{})}
	d.fences[f] = struct{}{}
	d.queue = append(d.queue, &batch{cmds: d.recorded, fence: f})
	d.recorded = nil
	d.stats.FencesInserted++
	d.stats.FencesLive++
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
	return readback.HandleFence(f), nil
}

// WaitFence reports whether f is signaled, waiting up to timeout.
// A flushing wait makes the worker finish the batch in progress
// without its remaining latency.
func (d *Device) WaitFence(rf readback.Fence, timeout time.Duration, flush bool) (bool, error) {
	f, err := d.lookup(rf)
	if err != nil {
		return false, err
	}

	d.mu.Lock()
	werr := d.waitErr
	if flush {
		d.stats.Flushes++
	}
	d.mu.Unlock()
	if werr != nil {
		return false, werr
	}
	if flush {
		select {
		case d.flushc <- struct{}{}:
		default:
		}
	}

	switch {
	case timeout == 0:
		select {
		case <-f.signaled:
			return true, nil
		default:
			return false, nil
		}
	case timeout < 0:
		select {
		case <-f.signaled:
			return true, nil
		case <-d.stop:
			return false, ErrDeviceClosed
		}
	default:
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-f.signaled:
			return true, nil
		case <-t.C:
			return false, nil
		case <-d.stop:
			return false, ErrDeviceClosed
		}
	}
}

// DeleteFence forgets f. Deleting an unsignaled fence is allowed; its
// batch still executes.
func (d *Device) DeleteFence(rf readback.Fence) {
	f, ok := rf.Handle().(*fence)
	if !ok {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.fences[f]; ok {
		delete(d.fences, f)
		d.stats.FencesLive--
	}
}

// ReadBuffer copies the start of h into dst.
func (d *Device) ReadBuffer(h readback.BufferHandle, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	storage, ok := d.buffers[h]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBuffer, h)
	}
	if len(storage) < len(dst) {
		return fmt.Errorf("%w: buffer %d holds %d bytes, read wants %d",
			ErrBufferTooSmall, h, len(storage), len(dst))
	}
	copy(dst, storage)
	return nil
}

// Signal executes every queued batch up to and including the one closed
// by f, in submission order. Signaling an already signaled fence is a
// no-op.
func (d *Device) Signal(rf readback.Fence) error {
	f, ok := rf.Handle().(*fence)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFence, rf)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, b := range d.queue {
		if b.fence == f {
			for _, done := range d.queue[:i+1] {
				d.executeLocked(done)
			}
			clear(d.queue[:i+1])
			d.queue = d.queue[i+1:]
			return nil
		}
	}
	select {
	case <-f.signaled:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFence, rf)
	}
}

// SignalAll executes every queued batch.
func (d *Device) SignalAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range d.queue {
		d.executeLocked(b)
	}
	clear(d.queue)
	d.queue = d.queue[:0]
}

// Queued returns the number of batches not yet executed.
func (d *Device) Queued() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// SetWaitError makes every WaitFence fail with err, simulating a lost
// device. Pass nil to restore normal behavior.
func (d *Device) SetWaitError(err error) {
	d.mu.Lock()
	d.waitErr = err
	d.mu.Unlock()
}

// Stats returns a snapshot of the device counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Close stops the worker. Queued batches are dropped and blocked waits
// fail with ErrDeviceClosed. Buffers stay readable.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.queue = nil
	d.mu.Unlock()

	close(d.stop)
	d.wg.Wait()
	readback.Logger().Debug("software: device closed", "stats", d.Stats().String())
	return nil
}

func (d *Device) lookup(rf readback.Fence) (*fence, error) {
	f, ok := rf.Handle().(*fence)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFence, rf)
	}
	return f, nil
}

// run is the simulated GPU: it executes batches in FIFO order, each
// after cfg.Latency unless a flush cuts the wait short.
func (d *Device) run() {
	defer d.wg.Done()
	for {
		b, ok := d.next()
		if !ok {
			return
		}
		if d.cfg.Latency > 0 {
			t := time.NewTimer(d.cfg.Latency)
			select {
			case <-t.C:
			case <-d.flushc:
				t.Stop()
			case <-d.stop:
				t.Stop()
				return
			}
		}
		d.mu.Lock()
		// Signal may have run the batch already.
		if len(d.queue) > 0 && d.queue[0] == b {
			d.executeLocked(b)
			d.queue[0] = nil
			d.queue = d.queue[1:]
		}
		d.mu.Unlock()
	}
}

// next blocks until a batch is queued and returns it without dequeuing.
func (d *Device) next() (*batch, bool) {
	for {
		d.mu.Lock()
		if len(d.queue) > 0 {
			b := d.queue[0]
			d.mu.Unlock()
			return b, true
		}
		d.mu.Unlock()
		select {
		case <-d.notify:
		case <-d.stop:
			return nil, false
		}
	}
}

// executeLocked writes the batch copies into their buffers and signals
// the fence. d.mu must be held.
func (d *Device) executeLocked(b *batch) {
	for _, c := range b.cmds {
		// A buffer destroyed after the copy was recorded simply drops it.
		if storage, ok := d.buffers[c.dst]; ok {
			copy(storage, c.pix)
		}
	}
	close(b.fence.signaled)
	d.stats.BatchesExecuted++
	readback.Logger().Debug("software: fence signaled", "fence", b.fence.id, "copies", len(b.cmds))
}
