package native

import (
	"github.com/gogpu/wgpu"
)

// Texture is a wgpu texture usable as a readback source. It implements
// gpucontext.Texture.
//
// wgpu textures do not report their size, so the wrapper carries it.
// The texture must have been created with TextureUsageCopySrc and an
// RGBA8 or BGRA8 format.
type Texture struct {
	tex    *wgpu.Texture
	width  int
	height int
}

// NewTexture wraps tex, a width × height texture.
func NewTexture(tex *wgpu.Texture, width, height int) *Texture {
	return &Texture{tex: tex, width: width, height: height}
}

// Width returns the texture width in pixels.
func (t *Texture) Width() int { return t.width }

// Height returns the texture height in pixels.
func (t *Texture) Height() int { return t.height }

// WGPUTexture returns the wrapped texture.
func (t *Texture) WGPUTexture() *wgpu.Texture { return t.tex }
