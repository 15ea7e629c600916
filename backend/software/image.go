package software

import (
	"image"
	"image/color"
)

// Image is a CPU-resident RGBA8 source image. It implements
// gpucontext.Texture so it can be passed to Coordinator.Submit.
type Image struct {
	// Pix holds the pixels in row-major order, 4 bytes per pixel, with no
	// row padding.
	Pix []byte

	width  int
	height int
}

// NewImage creates a transparent width × height image.
func NewImage(width, height int) *Image {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Image{
		Pix:    make([]byte, width*height*4),
		width:  width,
		height: height,
	}
}

// NewImageFrom copies an image.Image into a new Image.
func NewImageFrom(src image.Image) *Image {
	b := src.Bounds()
	img := NewImage(b.Dx(), b.Dy())
	for y := 0; y < img.height; y++ {
		for x := 0; x < img.width; x++ {
			c := color.RGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
			img.SetPixel(x, y, c)
		}
	}
	return img
}

// Width returns the image width in pixels.
func (img *Image) Width() int { return img.width }

// Height returns the image height in pixels.
func (img *Image) Height() int { return img.height }

// SetPixel sets the pixel at (x, y). Out of bounds writes are ignored.
func (img *Image) SetPixel(x, y int, c color.RGBA) {
	if x < 0 || y < 0 || x >= img.width || y >= img.height {
		return
	}
	i := (y*img.width + x) * 4
	img.Pix[i+0] = c.R
	img.Pix[i+1] = c.G
	img.Pix[i+2] = c.B
	img.Pix[i+3] = c.A
}

// PixelAt returns the pixel at (x, y), or transparent black when out of
// bounds.
func (img *Image) PixelAt(x, y int) color.RGBA {
	if x < 0 || y < 0 || x >= img.width || y >= img.height {
		return color.RGBA{}
	}
	i := (y*img.width + x) * 4
	return color.RGBA{R: img.Pix[i+0], G: img.Pix[i+1], B: img.Pix[i+2], A: img.Pix[i+3]}
}

// Fill sets every pixel to c.
func (img *Image) Fill(c color.RGBA) {
	for i := 0; i+3 < len(img.Pix); i += 4 {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
	}
}
