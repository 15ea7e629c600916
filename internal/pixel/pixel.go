// Package pixel provides row-pitch helpers for staging buffer copies.
package pixel

// BytesPerPixel is the size of one RGBA8 or BGRA8 pixel.
const BytesPerPixel = 4

// CopyPitchAlignment is the BytesPerRow alignment WebGPU (and DX12)
// requires for texture-to-buffer copies.
const CopyPitchAlignment = 256

// TightPitch returns the unpadded row size of a width-pixel image.
func TightPitch(width int) int {
	return width * BytesPerPixel
}

// AlignedPitch returns the row size of a width-pixel image rounded up to
// CopyPitchAlignment.
func AlignedPitch(width int) int {
	return (TightPitch(width) + CopyPitchAlignment - 1) &^ (CopyPitchAlignment - 1)
}

// StagingSize returns the staging buffer size for a width × height copy
// with aligned rows.
func StagingSize(width, height int) int {
	return AlignedPitch(width) * height
}

// StripPadding copies height rows of tight pitch from src, laid out with
// row pitch pitch, into dst packed without padding. It returns the number
// of bytes written, which is less than len(dst) only when src or dst is
// too short.
func StripPadding(dst, src []byte, width, height, pitch int) int {
	tight := TightPitch(width)
	if pitch == tight {
		return copy(dst, src[:min(len(src), tight*height)])
	}
	n := 0
	for row := 0; row < height; row++ {
		srcOff := row * pitch
		dstOff := row * tight
		if srcOff+tight > len(src) || dstOff+tight > len(dst) {
			break
		}
		n += copy(dst[dstOff:dstOff+tight], src[srcOff:srcOff+tight])
	}
	return n
}

// SwapRB converts BGRA pixels to RGBA (or back) in place.
func SwapRB(buf []byte) {
	for i := 0; i+3 < len(buf); i += BytesPerPixel {
		buf[i], buf[i+2] = buf[i+2], buf[i]
	}
}
