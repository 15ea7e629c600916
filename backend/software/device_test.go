package software

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/gogpu/readback"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newManual(t *testing.T) *Device {
	t.Helper()
	d := New(Config{Manual: true})
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func sizedBuffer(t *testing.T, d *Device, size int) readback.BufferHandle {
	t.Helper()
	h, err := d.CreateBuffer()
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	if err := d.ResizeBuffer(h, size); err != nil {
		t.Fatalf("ResizeBuffer() error = %v", err)
	}
	return h
}

func TestImage(t *testing.T) {
	img := NewImage(2, 2)
	if img.Width() != 2 || img.Height() != 2 {
		t.Fatalf("size = %dx%d, want 2x2", img.Width(), img.Height())
	}
	red := color.RGBA{R: 255, A: 255}
	img.SetPixel(1, 1, red)
	img.SetPixel(5, 5, red) // ignored
	if got := img.PixelAt(1, 1); got != red {
		t.Errorf("PixelAt(1, 1) = %v, want %v", got, red)
	}
	if got := img.PixelAt(0, 0); got != (color.RGBA{}) {
		t.Errorf("PixelAt(0, 0) = %v, want transparent", got)
	}
	if got := img.PixelAt(-1, 0); got != (color.RGBA{}) {
		t.Errorf("PixelAt(-1, 0) = %v, want transparent", got)
	}

	img.Fill(red)
	for i := 0; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 255 || img.Pix[i+3] != 255 {
			t.Fatalf("Fill left pixel %d = %v", i/4, img.Pix[i:i+4])
		}
	}
}

func TestNewImageFrom(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	src.Set(2, 1, color.RGBA{R: 1, G: 2, B: 3, A: 255})

	img := NewImageFrom(src)
	if img.Width() != 3 || img.Height() != 2 {
		t.Fatalf("size = %dx%d, want 3x2", img.Width(), img.Height())
	}
	if got := img.PixelAt(2, 1); got != (color.RGBA{R: 1, G: 2, B: 3, A: 255}) {
		t.Errorf("PixelAt(2, 1) = %v", got)
	}
}

func TestDeviceBufferLifecycle(t *testing.T) {
	d := newManual(t)

	h := sizedBuffer(t, d, 16)
	if err := d.ResizeBuffer(h, 32); err != nil {
		t.Fatalf("ResizeBuffer() error = %v", err)
	}
	if err := d.ResizeBuffer(h, 0); !errors.Is(err, readback.ErrInvalidArgument) {
		t.Errorf("ResizeBuffer(0) error = %v, want ErrInvalidArgument", err)
	}
	if err := d.DestroyBuffer(h); err != nil {
		t.Fatalf("DestroyBuffer() error = %v", err)
	}
	if err := d.DestroyBuffer(h); !errors.Is(err, ErrUnknownBuffer) {
		t.Errorf("second DestroyBuffer() error = %v, want ErrUnknownBuffer", err)
	}
	if err := d.ResizeBuffer(h, 8); !errors.Is(err, ErrUnknownBuffer) {
		t.Errorf("ResizeBuffer(destroyed) error = %v, want ErrUnknownBuffer", err)
	}

	s := d.Stats()
	if s.BuffersCreated != 1 || s.BuffersResized != 2 || s.BuffersDestroyed != 1 || s.BuffersLive != 0 {
		t.Errorf("Stats() = %s", s)
	}
}

func TestDeviceManualSignal(t *testing.T) {
	d := newManual(t)

	img := NewImage(2, 1)
	img.Fill(color.RGBA{R: 10, G: 20, B: 30, A: 40})
	h := sizedBuffer(t, d, len(img.Pix))

	if err := d.CopyImageToBuffer(img, h); err != nil {
		t.Fatalf("CopyImageToBuffer() error = %v", err)
	}
	f, err := d.InsertFence()
	if err != nil {
		t.Fatalf("InsertFence() error = %v", err)
	}
	if f.Kind() != readback.FenceHandle {
		t.Fatalf("fence kind = %v, want Handle", f.Kind())
	}

	// The copy snapshots the image at record time.
	img.Fill(color.RGBA{})

	if ok, err := d.WaitFence(f, 0, false); ok || err != nil {
		t.Fatalf("WaitFence before Signal = %v, %v; want false, nil", ok, err)
	}
	if ok, err := d.WaitFence(f, time.Millisecond, false); ok || err != nil {
		t.Fatalf("timed WaitFence before Signal = %v, %v; want false, nil", ok, err)
	}

	if err := d.Signal(f); err != nil {
		t.Fatalf("Signal() error = %v", err)
	}
	if ok, err := d.WaitFence(f, 0, false); !ok || err != nil {
		t.Fatalf("WaitFence after Signal = %v, %v; want true, nil", ok, err)
	}
	if err := d.Signal(f); err != nil {
		t.Errorf("second Signal() error = %v, want nil", err)
	}

	got := make([]byte, len(img.Pix))
	if err := d.ReadBuffer(h, got); err != nil {
		t.Fatalf("ReadBuffer() error = %v", err)
	}
	if want := []byte{10, 20, 30, 40, 10, 20, 30, 40}; !bytes.Equal(got, want) {
		t.Errorf("ReadBuffer() = %v, want %v", got, want)
	}
}

func TestDeviceSignalIsFIFO(t *testing.T) {
	d := newManual(t)

	f1, _ := d.InsertFence()
	f2, _ := d.InsertFence()
	f3, _ := d.InsertFence()

	if err := d.Signal(f2); err != nil {
		t.Fatalf("Signal(f2) error = %v", err)
	}
	if ok, _ := d.WaitFence(f1, 0, false); !ok {
		t.Error("f1 should be signaled after Signal(f2)")
	}
	if ok, _ := d.WaitFence(f3, 0, false); ok {
		t.Error("f3 should not be signaled after Signal(f2)")
	}
	if d.Queued() != 1 {
		t.Errorf("Queued() = %d, want 1", d.Queued())
	}

	d.SignalAll()
	if ok, _ := d.WaitFence(f3, 0, false); !ok {
		t.Error("f3 should be signaled after SignalAll")
	}
}

func TestDeviceWaitFenceBlocksUntilSignal(t *testing.T) {
	d := newManual(t)
	f, _ := d.InsertFence()

	go func() {
		time.Sleep(5 * time.Millisecond)
		d.SignalAll()
	}()

	ok, err := d.WaitFence(f, readback.NoTimeout, true)
	if !ok || err != nil {
		t.Fatalf("WaitFence(NoTimeout) = %v, %v; want true, nil", ok, err)
	}
	if got := d.Stats().Flushes; got != 1 {
		t.Errorf("Flushes = %d, want 1", got)
	}
}

func TestDeviceAutoLatency(t *testing.T) {
	d := New(Config{Latency: 20 * time.Millisecond})
	defer d.Close()

	f, _ := d.InsertFence()
	if ok, _ := d.WaitFence(f, 0, false); ok {
		t.Fatal("fence signaled before latency elapsed")
	}
	ok, err := d.WaitFence(f, time.Second, false)
	if !ok || err != nil {
		t.Fatalf("WaitFence = %v, %v; want true, nil", ok, err)
	}
}

func TestDeviceFlushSkipsLatency(t *testing.T) {
	d := New(Config{Latency: time.Hour})
	defer d.Close()

	f, _ := d.InsertFence()
	ok, err := d.WaitFence(f, time.Second, true)
	if !ok || err != nil {
		t.Fatalf("flushing WaitFence = %v, %v; want true, nil", ok, err)
	}
}

func TestDeviceWaitError(t *testing.T) {
	d := newManual(t)
	f, _ := d.InsertFence()

	lost := errors.New("device lost")
	d.SetWaitError(lost)
	if _, err := d.WaitFence(f, 0, false); !errors.Is(err, lost) {
		t.Errorf("WaitFence error = %v, want %v", err, lost)
	}
	d.SetWaitError(nil)
	if _, err := d.WaitFence(f, 0, false); err != nil {
		t.Errorf("WaitFence after clearing error = %v, want nil", err)
	}
}

func TestDeviceDeleteFence(t *testing.T) {
	d := newManual(t)
	f, _ := d.InsertFence()
	if got := d.Stats().FencesLive; got != 1 {
		t.Fatalf("FencesLive = %d, want 1", got)
	}
	d.DeleteFence(f)
	d.DeleteFence(f)
	d.DeleteFence(readback.Fence{})
	if got := d.Stats().FencesLive; got != 0 {
		t.Errorf("FencesLive = %d, want 0", got)
	}
}

func TestDeviceErrors(t *testing.T) {
	d := newManual(t)
	h := sizedBuffer(t, d, 4)

	if err := d.CopyImageToBuffer(fakeTexture{}, h); !errors.Is(err, ErrUnsupportedImage) {
		t.Errorf("CopyImageToBuffer(foreign) error = %v, want ErrUnsupportedImage", err)
	}
	if err := d.CopyImageToBuffer(NewImage(2, 2), h); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("CopyImageToBuffer(large) error = %v, want ErrBufferTooSmall", err)
	}
	if err := d.CopyImageToBuffer(NewImage(1, 1), 99); !errors.Is(err, ErrUnknownBuffer) {
		t.Errorf("CopyImageToBuffer(unknown) error = %v, want ErrUnknownBuffer", err)
	}
	if err := d.ReadBuffer(h, make([]byte, 8)); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("ReadBuffer(large) error = %v, want ErrBufferTooSmall", err)
	}
	if _, err := d.WaitFence(readback.IndexFence(1), 0, false); !errors.Is(err, ErrUnknownFence) {
		t.Errorf("WaitFence(index) error = %v, want ErrUnknownFence", err)
	}
	if err := d.Signal(readback.Fence{}); !errors.Is(err, ErrUnknownFence) {
		t.Errorf("Signal(zero) error = %v, want ErrUnknownFence", err)
	}
}

func TestDeviceClose(t *testing.T) {
	d := New(Config{Latency: time.Hour})
	f, _ := d.InsertFence()

	errc := make(chan error, 1)
	go func() {
		_, err := d.WaitFence(f, readback.NoTimeout, false)
		errc <- err
	}()
	time.Sleep(5 * time.Millisecond)

	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := <-errc; !errors.Is(err, ErrDeviceClosed) {
		t.Errorf("blocked WaitFence error = %v, want ErrDeviceClosed", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := d.CreateBuffer(); !errors.Is(err, ErrDeviceClosed) {
		t.Errorf("CreateBuffer after Close error = %v, want ErrDeviceClosed", err)
	}
}

func TestBackend(t *testing.T) {
	b := NewBackend(Config{Manual: true})
	if b.Name() != "software" {
		t.Errorf("Name() = %q, want software", b.Name())
	}
	if b.Device() != nil {
		t.Error("Device() before Init should be nil")
	}
	if _, err := b.NewImage(1, 1, make([]byte, 4)); err == nil {
		t.Error("NewImage before Init should fail")
	}
	if err := b.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer b.Close()

	img, err := b.NewImage(2, 1, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	if err != nil {
		t.Fatalf("NewImage() error = %v", err)
	}
	if img.Width() != 2 || img.Height() != 1 {
		t.Errorf("image size = %dx%d, want 2x1", img.Width(), img.Height())
	}
	if _, err := b.NewImage(2, 2, make([]byte, 4)); !errors.Is(err, readback.ErrInvalidArgument) {
		t.Errorf("NewImage(short) error = %v, want ErrInvalidArgument", err)
	}
}

type fakeTexture struct{}

func (fakeTexture) Width() int  { return 1 }
func (fakeTexture) Height() int { return 1 }
