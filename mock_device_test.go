package readback

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gpucontext"
)

// lockThread pins the test goroutine to its OS thread so it can act as
// a coordinator's driver thread.
func lockThread(t *testing.T) {
	t.Helper()
	runtime.LockOSThread()
	t.Cleanup(runtime.UnlockOSThread)
}

// mockImage implements gpucontext.Texture for testing.
type mockImage struct {
	width, height int
	pix           []byte
}

// newMockImage creates an image whose byte i is byte(i+1).
func newMockImage(width, height int) *mockImage {
	pix := make([]byte, width*height*BytesPerPixel)
	for i := range pix {
		pix[i] = byte(i + 1)
	}
	return &mockImage{width: width, height: height, pix: pix}
}

func (m *mockImage) Width() int  { return m.width }
func (m *mockImage) Height() int { return m.height }

// mockFence is the native object behind a HandleFence.
type mockFence struct {
	id       int
	signaled chan struct{}
	copies   []mockCopy
	deleted  bool
}

type mockCopy struct {
	dst BufferHandle
	pix []byte
}

// mockWait records one WaitFence call.
type mockWait struct {
	fence   *mockFence
	timeout time.Duration
	flush   bool
}

// mockDevice implements Device for testing. Copies land in their buffer
// when the fence behind them is signaled by the test.
type mockDevice struct {
	mu sync.Mutex

	nextBuf   BufferHandle
	buffers   map[BufferHandle][]byte
	created   int
	resizes   []int
	destroyed map[BufferHandle]int

	nextFence int
	fences    []*mockFence
	recorded  []mockCopy
	waits     []mockWait
	deleted   int

	createErr  error
	resizeErr  error
	destroyErr error
	copyErr    error
	fenceErr   error
	waitErr    error
	readErr    error
}

func newMockDevice() *mockDevice {
	return &mockDevice{
		nextBuf:   1,
		buffers:   make(map[BufferHandle][]byte),
		destroyed: make(map[BufferHandle]int),
	}
}

func (d *mockDevice) CreateBuffer() (BufferHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.createErr != nil {
		return InvalidBuffer, d.createErr
	}
	h := d.nextBuf
	d.nextBuf++
	d.buffers[h] = nil
	d.created++
	return h, nil
}

func (d *mockDevice) ResizeBuffer(h BufferHandle, size int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.resizeErr != nil {
		return d.resizeErr
	}
	if _, ok := d.buffers[h]; !ok {
		return fmt.Errorf("mock: unknown buffer %d", h)
	}
	d.buffers[h] = make([]byte, size)
	d.resizes = append(d.resizes, size)
	return nil
}

func (d *mockDevice) DestroyBuffer(h BufferHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed[h]++
	delete(d.buffers, h)
	return d.destroyErr
}

func (d *mockDevice) CopyImageToBuffer(src gpucontext.Texture, h BufferHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.copyErr != nil {
		return d.copyErr
	}
	img, ok := src.(*mockImage)
	if !ok {
		return errors.New("mock: unsupported image")
	}
	d.recorded = append(d.recorded, mockCopy{dst: h, pix: append([]byte(nil), img.pix...)})
	return nil
}

func (d *mockDevice) InsertFence() (Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fenceErr != nil {
		return Fence{}, d.fenceErr
	}
	d.nextFence++
	f := &mockFence{id: d.nextFence, signaled: make(chan struct{}), copies: d.recorded}
	d.recorded = nil
	d.fences = append(d.fences, f)
	return HandleFence(f), nil
}

func (d *mockDevice) WaitFence(rf Fence, timeout time.Duration, flush bool) (bool, error) {
	f := rf.Handle().(*mockFence)
	d.mu.Lock()
	d.waits = append(d.waits, mockWait{fence: f, timeout: timeout, flush: flush})
	werr := d.waitErr
	d.mu.Unlock()
	if werr != nil {
		return false, werr
	}

	var timer <-chan time.Time
	switch {
	case timeout == 0:
		select {
		case <-f.signaled:
			return true, nil
		default:
			return false, nil
		}
	case timeout > 0:
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-f.signaled:
		return true, nil
	case <-timer:
		return false, nil
	}
}

func (d *mockDevice) DeleteFence(rf Fence) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rf.Handle().(*mockFence).deleted = true
	d.deleted++
}

func (d *mockDevice) ReadBuffer(h BufferHandle, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readErr != nil {
		return d.readErr
	}
	copy(dst, d.buffers[h])
	return nil
}

// signal executes the copies fenced by f and signals it.
func (d *mockDevice) signal(f Fence) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.signalLocked(f.Handle().(*mockFence))
}

// signalAll signals every fence inserted so far.
func (d *mockDevice) signalAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range d.fences {
		d.signalLocked(f)
	}
}

func (d *mockDevice) signalLocked(f *mockFence) {
	select {
	case <-f.signaled:
		return
	default:
	}
	for _, c := range f.copies {
		if buf, ok := d.buffers[c.dst]; ok {
			copy(buf, c.pix)
		}
	}
	close(f.signaled)
}

// waitCalls returns a copy of the recorded WaitFence calls.
func (d *mockDevice) waitCalls() []mockWait {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]mockWait(nil), d.waits...)
}

func (d *mockDevice) setWaitErr(err error) {
	d.mu.Lock()
	d.waitErr = err
	d.mu.Unlock()
}
