package native

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/readback"
	"github.com/gogpu/readback/internal/pixel"
	"github.com/gogpu/wgpu"
)

// Device errors.
var (
	// ErrNilDevice is returned when constructing a Device without a wgpu device.
	ErrNilDevice = errors.New("native: device is nil")

	// ErrUnknownBuffer is returned for a buffer handle the device never
	// created or already destroyed.
	ErrUnknownBuffer = errors.New("native: unknown buffer")

	// ErrUnsupportedImage is returned when the copy source is not a wgpu texture.
	ErrUnsupportedImage = errors.New("native: source is not a wgpu texture")

	// ErrUnsupportedFormat is returned for textures that are not 4-byte RGBA/BGRA.
	ErrUnsupportedFormat = errors.New("native: unsupported texture format")

	// ErrBufferTooSmall is returned when a copy does not fit the staging size.
	ErrBufferTooSmall = errors.New("native: staging buffer too small")

	// ErrNoData is returned by ReadBuffer for a buffer that was never copied into.
	ErrNoData = errors.New("native: staging buffer holds no copy")

	// ErrUnsupportedFence is returned for fences that are not submission indices.
	ErrUnsupportedFence = errors.New("native: fence is not a submission index")

	// ErrFenceNotReached is returned when a blocking wait drained the device
	// and the submission still did not complete.
	ErrFenceNotReached = errors.New("native: submission did not complete after device wait")

	// ErrReleased is returned by operations after Release.
	ErrReleased = errors.New("native: device released")
)

// Default timings.
const (
	// DefaultPollInterval is how often a timed WaitFence polls the queue.
	DefaultPollInterval = 250 * time.Microsecond

	// DefaultMapTimeout bounds a staging buffer map in ReadBuffer.
	DefaultMapTimeout = 5 * time.Second
)

// staging is the wgpu side of a readback.BufferHandle.
//
// The wgpu buffer is created on first copy: its row pitch depends on the
// image width, which ResizeBuffer does not know.
type staging struct {
	size int // tight capacity requested by ResizeBuffer
	buf  *wgpu.Buffer

	// Layout of the last copy.
	width, height int
	pitch         int
	swapRB        bool
}

// submission is a submitted command buffer awaiting completion.
type submission struct {
	index uint64
	cmd   *wgpu.CommandBuffer
}

// Device implements readback.Device over a gogpu/wgpu device.
//
// Fences are queue submission indices: InsertFence submits every copy
// recorded since the previous fence and returns the submission index;
// the fence is signaled once Queue.Poll reports that index completed.
//
// All methods must be called from the coordinator's driver thread.
type Device struct {
	dev   *wgpu.Device
	queue *wgpu.Queue

	buffers map[readback.BufferHandle]*staging
	nextBuf readback.BufferHandle

	encoder  *wgpu.CommandEncoder
	copies   int
	inflight []submission

	pollInterval time.Duration
	mapTimeout   time.Duration
	released     bool
}

// Option configures a Device.
type Option func(*Device)

// WithPollInterval sets how often a timed WaitFence polls the queue.
func WithPollInterval(d time.Duration) Option {
	return func(dev *Device) {
		if d > 0 {
			dev.pollInterval = d
		}
	}
}

// WithMapTimeout bounds each staging buffer map in ReadBuffer.
func WithMapTimeout(d time.Duration) Option {
	return func(dev *Device) {
		if d > 0 {
			dev.mapTimeout = d
		}
	}
}

// New wraps a wgpu device. The device is borrowed: Release frees the
// staging buffers but leaves dev alive.
func New(dev *wgpu.Device, opts ...Option) (*Device, error) {
	if dev == nil {
		return nil, ErrNilDevice
	}
	d := &Device{
		dev:          dev,
		queue:        dev.Queue(),
		buffers:      make(map[readback.BufferHandle]*staging),
		nextBuf:      1,
		pollInterval: DefaultPollInterval,
		mapTimeout:   DefaultMapTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// NewFromProvider wraps the device of a host application, such as a
// gogpu window, that exposes it through gpucontext.DeviceProvider.
func NewFromProvider(p gpucontext.DeviceProvider, opts ...Option) (*Device, error) {
	if p == nil {
		return nil, ErrNilDevice
	}
	dev, ok := p.Device().(*wgpu.Device)
	if !ok || dev == nil {
		return nil, fmt.Errorf("%w: provider device is %T", ErrNilDevice, p.Device())
	}
	return New(dev, opts...)
}

// CreateBuffer registers a staging buffer name. No GPU memory is allocated.
func (d *Device) CreateBuffer() (readback.BufferHandle, error) {
	if d.released {
		return readback.InvalidBuffer, ErrReleased
	}
	h := d.nextBuf
	d.nextBuf++
	d.buffers[h] = &staging{}
	return h, nil
}

// ResizeBuffer sets the tight capacity of h. The wgpu buffer is dropped
// and recreated with an aligned row pitch on the next copy.
func (d *Device) ResizeBuffer(h readback.BufferHandle, size int) error {
	st, ok := d.buffers[h]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBuffer, h)
	}
	if size <= 0 {
		return fmt.Errorf("native: resize buffer %d to %d bytes: %w", h, size, readback.ErrInvalidArgument)
	}
	if size != st.size {
		d.releaseStaging(st)
	}
	st.size = size
	return nil
}

// DestroyBuffer releases the wgpu buffer behind h.
func (d *Device) DestroyBuffer(h readback.BufferHandle) error {
	st, ok := d.buffers[h]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBuffer, h)
	}
	d.releaseStaging(st)
	delete(d.buffers, h)
	return nil
}

// CopyImageToBuffer records a CopyTextureToBuffer into the pending
// command encoder. Nothing reaches the GPU until InsertFence.
func (d *Device) CopyImageToBuffer(src gpucontext.Texture, h readback.BufferHandle) error {
	if d.released {
		return ErrReleased
	}
	tex, ok := src.(*Texture)
	if !ok || tex.tex == nil {
		return fmt.Errorf("%w: %T", ErrUnsupportedImage, src)
	}
	swap, err := formatLayout(tex.tex.Format())
	if err != nil {
		return err
	}
	st, ok := d.buffers[h]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBuffer, h)
	}

	w, hgt := tex.Width(), tex.Height()
	if tight := w * hgt * pixel.BytesPerPixel; tight > st.size {
		return fmt.Errorf("%w: buffer %d holds %d bytes, image needs %d", ErrBufferTooSmall, h, st.size, tight)
	}
	pitch := pixel.AlignedPitch(w)
	need := uint64(pixel.StagingSize(w, hgt))

	if st.buf == nil || st.buf.Size() < need {
		d.releaseStaging(st)
		buf, err := d.dev.CreateBuffer(&wgpu.BufferDescriptor{
			Label: fmt.Sprintf("readback_staging_%d", h),
			Size:  need,
			Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("native: create staging buffer: %w", err)
		}
		st.buf = buf
	}

	if d.encoder == nil {
		enc, err := d.dev.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: "readback_copy"})
		if err != nil {
			return fmt.Errorf("native: create command encoder: %w", err)
		}
		d.encoder = enc
	}
	d.encoder.CopyTextureToBuffer(tex.tex, st.buf, []wgpu.BufferTextureCopy{{
		BufferLayout: wgpu.ImageDataLayout{Offset: 0, BytesPerRow: uint32(pitch), RowsPerImage: uint32(hgt)},
		TextureBase:  wgpu.ImageCopyTexture{Texture: tex.tex, MipLevel: 0},
		Size:         wgpu.Extent3D{Width: uint32(w), Height: uint32(hgt), DepthOrArrayLayers: 1},
	}})
	d.copies++

	st.width, st.height, st.pitch, st.swapRB = w, hgt, pitch, swap
	return nil
}

// InsertFence submits the pending copies and returns their submission
// index. With nothing pending, the fence is the last submission index,
// which still orders after every earlier copy.
func (d *Device) InsertFence() (readback.Fence, error) {
	if d.released {
		return readback.Fence{}, ErrReleased
	}
	if d.encoder == nil {
		return readback.IndexFence(d.queue.LastSubmissionIndex()), nil
	}

	enc := d.encoder
	d.encoder = nil
	copies := d.copies
	d.copies = 0

	cmd, err := enc.Finish()
	if err != nil {
		return readback.Fence{}, fmt.Errorf("native: finish copy encoder: %w", err)
	}
	idx, err := d.queue.Submit(cmd)
	if err != nil {
		d.dev.FreeCommandBuffer(cmd)
		return readback.Fence{}, fmt.Errorf("native: submit copies: %w", err)
	}
	d.inflight = append(d.inflight, submission{index: idx, cmd: cmd})
	readback.Logger().Debug("native: copies submitted", "index", idx, "copies", copies)
	return readback.IndexFence(idx), nil
}

// WaitFence reports whether the submission behind f has completed.
//
// flush drives the device's pending map triage (Device.Poll) before the
// check; submissions themselves are already flushed by Queue.Submit.
// A negative timeout (readback.NoTimeout) waits for the device to go idle.
func (d *Device) WaitFence(f readback.Fence, timeout time.Duration, flush bool) (bool, error) {
	if d.released {
		return false, ErrReleased
	}
	if f.Kind() != readback.FenceIndex {
		return false, fmt.Errorf("%w: %s", ErrUnsupportedFence, f)
	}
	idx := f.Index()
	if flush {
		d.dev.Poll(wgpu.PollPoll)
	}
	if d.completed(idx) {
		return true, nil
	}

	switch {
	case timeout == 0:
		return false, nil
	case timeout < 0:
		d.dev.Poll(wgpu.PollWait)
		if !d.completed(idx) {
			return false, fmt.Errorf("%w: index %d, completed %d", ErrFenceNotReached, idx, d.queue.Poll())
		}
		return true, nil
	default:
		deadline := time.NewTimer(timeout)
		defer deadline.Stop()
		tick := time.NewTicker(d.pollInterval)
		defer tick.Stop()
		for {
			select {
			case <-deadline.C:
				return d.completed(idx), nil
			case <-tick.C:
				if d.completed(idx) {
					return true, nil
				}
			}
		}
	}
}

// DeleteFence frees command buffers whose submissions have completed.
// Submission indices themselves own no native object.
func (d *Device) DeleteFence(readback.Fence) {
	d.freeCompleted()
}

// ReadBuffer maps the staging buffer, copies the last copy's pixels into
// dst without row padding (converting BGRA to RGBA) and unmaps it.
func (d *Device) ReadBuffer(h readback.BufferHandle, dst []byte) error {
	st, ok := d.buffers[h]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBuffer, h)
	}
	if st.buf == nil || st.pitch == 0 {
		return fmt.Errorf("%w: %d", ErrNoData, h)
	}
	size := uint64(st.pitch * st.height)

	ctx, cancel := context.WithTimeout(context.Background(), d.mapTimeout)
	defer cancel()
	if err := st.buf.Map(ctx, wgpu.MapModeRead, 0, size); err != nil {
		return fmt.Errorf("native: map staging buffer %d: %w", h, err)
	}
	defer func() {
		if err := st.buf.Unmap(); err != nil {
			readback.Logger().Warn("native: unmap staging buffer", "handle", h, "err", err)
		}
	}()

	rng, err := st.buf.MappedRange(0, size)
	if err != nil {
		return fmt.Errorf("native: mapped range of buffer %d: %w", h, err)
	}
	defer rng.Release()

	n := pixel.StripPadding(dst, rng.Bytes(), st.width, st.height, st.pitch)
	if st.swapRB {
		pixel.SwapRB(dst[:n])
	}
	if n < len(dst) {
		return fmt.Errorf("%w: buffer %d holds %d bytes, read wants %d", ErrBufferTooSmall, h, n, len(dst))
	}
	return nil
}

// Release waits for in-flight submissions and frees every staging
// buffer. The wgpu device is left alive.
func (d *Device) Release() {
	if d.released {
		return
	}
	d.released = true
	if d.encoder != nil {
		d.encoder.DiscardEncoding()
		d.encoder = nil
	}
	if len(d.inflight) > 0 {
		d.dev.Poll(wgpu.PollWait)
	}
	d.freeCompleted()
	for h, st := range d.buffers {
		d.releaseStaging(st)
		delete(d.buffers, h)
	}
}

func (d *Device) completed(idx uint64) bool {
	return d.queue.Poll() >= idx
}

func (d *Device) freeCompleted() {
	if len(d.inflight) == 0 {
		return
	}
	done := d.queue.Poll()
	kept := d.inflight[:0]
	for _, s := range d.inflight {
		if s.index <= done {
			d.dev.FreeCommandBuffer(s.cmd)
			continue
		}
		kept = append(kept, s)
	}
	clear(d.inflight[len(kept):])
	d.inflight = kept
}

func (d *Device) releaseStaging(st *staging) {
	if st.buf != nil {
		st.buf.Release()
		st.buf = nil
	}
	st.width, st.height, st.pitch = 0, 0, 0
}

// formatLayout reports whether a texture format needs its red and blue
// channels swapped to produce RGBA8, or an error for formats that are
// not 4 bytes per pixel.
func formatLayout(f gputypes.TextureFormat) (swapRB bool, err error) {
	switch f {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb:
		return false, nil
	case gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb:
		return true, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrUnsupportedFormat, f)
	}
}
