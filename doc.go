// Package readback transfers rendered images from the GPU back to CPU
// memory without stalling the thread that drives the GPU.
//
// # Overview
//
// Reading a framebuffer synchronously forces the CPU to wait until every
// queued GPU command has finished. readback instead records the copy into
// a pooled staging buffer, inserts a fence behind it and returns a Request
// immediately. The data is copied out once the fence has signaled.
//
// # Quick Start
//
//	import "github.com/gogpu/readback"
//
//	// On the driver thread (the thread that owns the GPU device):
//	runtime.LockOSThread()
//	c := readback.NewCoordinator(dev)
//
//	dst := make([]byte, img.Width()*img.Height()*readback.BytesPerPixel)
//	req, err := c.Submit(img, dst)
//
//	// Once per frame:
//	c.Drain()
//
//	// From any goroutine:
//	pixels, err := req.Get(100 * time.Millisecond)
//
// # Driver Thread
//
// Most GPU APIs only accept commands from one thread. The Coordinator
// records the OS thread it was created on and only accepts Submit, Drain
// and Close from that thread (see WithThreadCheck). Request.Get behaves
// differently depending on the caller:
//   - On the driver thread it waits on the fence directly, flushing
//     pending commands, and copies the data itself.
//   - On any other goroutine it never touches the GPU and relies on a
//     later Drain to complete the request.
//
// DriverLoop packages a driver thread with a frame-paced Drain and lets
// other goroutines submit through it.
//
// # Backends
//
// The GPU side is abstracted by the Device interface:
//   - backend/native: github.com/gogpu/wgpu (Vulkan, Metal, DX12, GLES)
//   - backend/software: a CPU simulation with controllable fences
//
// # Logging
//
// The package logs through log/slog and is silent by default. Use
// SetLogger to enable output.
package readback
