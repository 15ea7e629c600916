package readback

import (
	"time"

	"github.com/gogpu/gpucontext"
)

// BytesPerPixel is the fixed pixel size of every transfer (RGBA8).
// Pixel format conversion is left to the code that issues the copy.
const BytesPerPixel = 4

// NoTimeout makes Request.Get wait without a deadline.
const NoTimeout time.Duration = -1

// BufferHandle names a native staging buffer.
type BufferHandle int64

// InvalidBuffer is the handle of a TransferBuffer that has no native
// buffer yet.
const InvalidBuffer BufferHandle = -1

// Device is the rendering-layer collaborator that owns the native command
// stream. Every method is called on the Coordinator's driver thread only,
// so implementations need no locking against the Coordinator. WaitFence
// is the one exception in spirit: it may block, but still only on the
// driver thread.
//
// Implementations:
//   - backend/native: gogpu/wgpu devices (Vulkan, Metal, DX12, GLES, software HAL)
//   - backend/software: in-process simulated GPU for tests and headless tools
type Device interface {
	// CreateBuffer creates a native staging buffer name with no storage.
	CreateBuffer() (BufferHandle, error)

	// ResizeBuffer (re)allocates the storage of h to size bytes with a
	// stream/read usage hint. Previous contents are discarded.
	ResizeBuffer(h BufferHandle, size int) error

	// DestroyBuffer deletes the native buffer.
	DestroyBuffer(h BufferHandle) error

	// CopyImageToBuffer records an asynchronous copy of the whole source
	// image into h as tightly packed RGBA8 rows. It must not block on the GPU.
	CopyImageToBuffer(src gpucontext.Texture, h BufferHandle) error

	// InsertFence inserts a fence into the command stream after every
	// command recorded so far.
	InsertFence() (Fence, error)

	// WaitFence reports whether f is signaled. A zero timeout polls without
	// blocking; a positive timeout blocks up to that long; NoTimeout blocks
	// until the fence resolves. flush asks the driver to start pending work
	// now instead of batching it. A non-nil error means the native primitive
	// failed, which is distinct from a timeout (false, nil).
	WaitFence(f Fence, timeout time.Duration, flush bool) (bool, error)

	// DeleteFence releases the native fence.
	DeleteFence(f Fence)

	// ReadBuffer copies len(dst) bytes from the start of h into dst.
	// Only called after the fence following the copy into h is signaled.
	ReadBuffer(h BufferHandle, dst []byte) error
}
