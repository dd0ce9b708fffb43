package convert

import (
	"errors"
	"fmt"
	"image"
)

// LCD panel geometry (320x170, RGB565 big-endian).
const (
	LCDWidth     = 320
	LCDHeight    = 170
	BytesPerPix  = 2
	LCDFrameSize = LCDWidth * LCDHeight * BytesPerPix // 108,800 bytes
)

// ErrBufferSize is returned when a pixel buffer is neither 3 nor 4 bytes per
// pixel for the requested geometry.
var ErrBufferSize = errors.New("convert: pixel buffer size does not match geometry")

// RGB565 packs one pixel. The 5/6/5-bit truncation is what the panel
// expects; values are never rounded.
func RGB565(r, g, b uint8) uint16 {
	return uint16(r&0xF8)<<8 | uint16(g&0xFC)<<3 | uint16(b>>3)
}

// EncodeRGB565 converts a row-major RGB or RGBA buffer into a big-endian
// RGB565 stream of width*height*2 bytes.
//
// The stride is inferred from len(pix): width*height*3 means packed RGB,
// width*height*4 means RGBA (alpha ignored).
func EncodeRGB565(pix []byte, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("convert: invalid geometry %dx%d", width, height)
	}
	count := width * height

	var stride int
	switch len(pix) {
	case count * 3:
		stride = 3
	case count * 4:
		stride = 4
	default:
		return nil, fmt.Errorf("%w: %d bytes for %dx%d", ErrBufferSize, len(pix), width, height)
	}

	out := make([]byte, count*BytesPerPix)
	for i, o := 0, 0; i < len(pix); i, o = i+stride, o+2 {
		v := RGB565(pix[i], pix[i+1], pix[i+2])
		out[o] = byte(v >> 8)
		out[o+1] = byte(v)
	}
	return out, nil
}

// EncodeImage encodes an *image.RGBA framebuffer. Sub-images are handled by
// walking rows through img.Stride.
func EncodeImage(img *image.RGBA) ([]byte, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if img.Stride == w*4 && len(img.Pix) == w*h*4 {
		return EncodeRGB565(img.Pix, w, h)
	}

	packed := make([]byte, 0, w*h*4)
	for y := 0; y < h; y++ {
		off := y * img.Stride
		packed = append(packed, img.Pix[off:off+w*4]...)
	}
	return EncodeRGB565(packed, w, h)
}
