package backend

import (
	"errors"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/readback"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrNotInitialized is returned when operations are called before Init.
	ErrNotInitialized = errors.New("backend: not initialized")
)

// Backend name constants.
const (
	// BackendSoftware is the name of the in-process simulated GPU backend.
	BackendSoftware = "software"
	// BackendNative is the name of the Pure Go GPU backend (gogpu/wgpu).
	BackendNative = "native"
)

// ReadbackBackend is the interface for readback backends.
// It pairs a readback.Device with a way to create source images that
// device can copy from, so tools can run the same readback workload on
// any backend.
//
// Backends must be registered via Register() and are selected via
// Get() or Default().
type ReadbackBackend interface {
	// Name returns the backend identifier (e.g., "software", "native").
	Name() string

	// Init acquires the device.
	// This should be called before any other method.
	Init() error

	// Close releases all backend resources.
	// The backend should not be used after Close is called.
	Close() error

	// Device returns the readback device, or nil before Init.
	// Its methods must only be called from the coordinator's driver thread.
	Device() readback.Device

	// NewImage creates a width × height source image holding pix
	// (tightly packed RGBA8 rows). Must be called on the driver thread.
	NewImage(width, height int, pix []byte) (gpucontext.Texture, error)
}
