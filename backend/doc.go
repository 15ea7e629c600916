// Package backend provides a pluggable readback backend abstraction.
//
// A backend pairs a readback.Device with a way to create source images
// for it. Backends are registered via init() functions and selected at
// runtime:
//
//	import (
//		"github.com/gogpu/readback/backend"
//		_ "github.com/gogpu/readback/backend/native"
//		_ "github.com/gogpu/readback/backend/software"
//	)
//
//	b, err := backend.InitDefault()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer b.Close()
//
//	c := readback.NewCoordinator(b.Device())
//
// # Available Backends
//
// - "native": GPU via gogpu/wgpu (Vulkan, Metal, DX12, GLES)
// - "software": in-process simulated GPU (always available)
package backend
