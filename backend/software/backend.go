package software

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/readback"
	"github.com/gogpu/readback/backend"
)

// init registers the software backend on package import.
func init() {
	backend.Register(backend.BackendSoftware, func() backend.ReadbackBackend {
		return NewBackend(DefaultConfig())
	})
}

// Backend is the software backend.ReadbackBackend.
type Backend struct {
	cfg Config
	dev *Device
}

// NewBackend creates a software backend that will create its device
// with cfg.
func NewBackend(cfg Config) *Backend {
	return &Backend{cfg: cfg}
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return backend.BackendSoftware
}

// Init creates the device.
func (b *Backend) Init() error {
	if b.dev == nil {
		b.dev = New(b.cfg)
	}
	return nil
}

// Close stops the device.
func (b *Backend) Close() error {
	if b.dev == nil {
		return nil
	}
	err := b.dev.Close()
	b.dev = nil
	return err
}

// Device returns the software device, or nil before Init.
func (b *Backend) Device() readback.Device {
	if b.dev == nil {
		return nil
	}
	return b.dev
}

// SoftwareDevice returns the concrete device, or nil before Init.
func (b *Backend) SoftwareDevice() *Device { return b.dev }

// NewImage creates an Image holding a copy of pix.
func (b *Backend) NewImage(width, height int, pix []byte) (gpucontext.Texture, error) {
	if b.dev == nil {
		return nil, backend.ErrNotInitialized
	}
	img := NewImage(width, height)
	if len(pix) != len(img.Pix) {
		return nil, fmt.Errorf("software: %dx%d image needs %d bytes, got %d: %w",
			width, height, len(img.Pix), len(pix), readback.ErrInvalidArgument)
	}
	copy(img.Pix, pix)
	return img, nil
}
