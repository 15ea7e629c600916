// Package native provides a readback.Device backed by gogpu/wgpu.
//
// Copies are recorded with CopyTextureToBuffer into MapRead staging
// buffers whose rows are padded to the 256-byte copy pitch WebGPU
// requires. Fences are queue submission indices, so no native fence
// object is created per request. ReadBuffer strips the row padding and
// converts BGRA textures to RGBA.
//
// Wrap a device owned by the application:
//
//	dev, err := native.New(wgpuDevice)
//	c := readback.NewCoordinator(dev)
//	req, err := c.Submit(native.NewTexture(tex, w, h), dst)
//
// or let the backend registry create a headless one:
//
//	b := backend.Get(backend.BackendNative)
//	if err := b.Init(); err != nil { ... }
//
// Importing the package registers it under the name "native".
package native
