package native

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/readback"
	"github.com/gogpu/readback/backend"
	"github.com/gogpu/readback/internal/pixel"
	"github.com/gogpu/wgpu"

	// Register all HAL backends (Vulkan, Metal, DX12, GLES) for headless use.
	_ "github.com/gogpu/wgpu/hal/allbackends"
)

// ErrNoGPU is returned by Init when no GPU adapter is available.
var ErrNoGPU = errors.New("native: no GPU adapter available")

// init registers the native backend on package import.
func init() {
	backend.Register(backend.BackendNative, func() backend.ReadbackBackend {
		return NewBackend()
	})
}

// Backend is the native backend.ReadbackBackend. It owns a headless
// wgpu instance, adapter and device.
type Backend struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	wdev     *wgpu.Device
	dev      *Device
	textures []*wgpu.Texture
}

// NewBackend creates an uninitialized native backend.
func NewBackend() *Backend {
	return &Backend{}
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return backend.BackendNative
}

// Init creates a headless wgpu device on the best available adapter.
func (b *Backend) Init() error {
	if b.dev != nil {
		return nil
	}
	instance, err := wgpu.CreateInstance(&wgpu.InstanceDescriptor{Backends: wgpu.BackendsAll})
	if err != nil {
		return fmt.Errorf("native: create instance: %w", err)
	}
	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		instance.Release()
		return fmt.Errorf("%w: %w", ErrNoGPU, err)
	}
	wdev, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return fmt.Errorf("native: request device: %w", err)
	}
	dev, err := New(wdev)
	if err != nil {
		wdev.Release()
		adapter.Release()
		instance.Release()
		return err
	}
	b.instance, b.adapter, b.wdev, b.dev = instance, adapter, wdev, dev
	readback.Logger().Info("native: backend initialized")
	return nil
}

// Close releases the staging buffers, textures and the wgpu device.
func (b *Backend) Close() error {
	if b.dev == nil {
		return nil
	}
	b.dev.Release()
	for _, t := range b.textures {
		t.Release()
	}
	b.textures = nil
	b.wdev.Release()
	b.adapter.Release()
	b.instance.Release()
	b.instance, b.adapter, b.wdev, b.dev = nil, nil, nil, nil
	return nil
}

// Device returns the readback device, or nil before Init.
func (b *Backend) Device() readback.Device {
	if b.dev == nil {
		return nil
	}
	return b.dev
}

// NativeDevice returns the concrete device, or nil before Init.
func (b *Backend) NativeDevice() *Device { return b.dev }

// NewImage uploads pix into a new RGBA8 texture that can be copied from.
// The texture is released by Close.
func (b *Backend) NewImage(width, height int, pix []byte) (gpucontext.Texture, error) {
	if b.dev == nil {
		return nil, backend.ErrNotInitialized
	}
	if width <= 0 || height <= 0 || len(pix) != width*height*pixel.BytesPerPixel {
		return nil, fmt.Errorf("native: %dx%d image with %d bytes: %w",
			width, height, len(pix), readback.ErrInvalidArgument)
	}
	size := wgpu.Extent3D{Width: uint32(width), Height: uint32(height), DepthOrArrayLayers: 1}
	tex, err := b.wdev.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "readback_source",
		Size:          size,
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatRGBA8Unorm,
		Usage:         wgpu.TextureUsageCopySrc | wgpu.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create source texture: %w", err)
	}
	err = b.wdev.Queue().WriteTexture(
		&wgpu.ImageCopyTexture{Texture: tex},
		pix,
		&wgpu.ImageDataLayout{BytesPerRow: uint32(pixel.TightPitch(width)), RowsPerImage: uint32(height)},
		&size,
	)
	if err != nil {
		tex.Release()
		return nil, fmt.Errorf("native: upload source texture: %w", err)
	}
	b.textures = append(b.textures, tex)
	return NewTexture(tex, width, height), nil
}
