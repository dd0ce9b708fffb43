package compose

import (
	"image"
	"image/color"

	"s1panel/internal/widget"
)

var splashColor = color.RGBA{R: 0, G: 212, B: 255, A: 0xFF}

// Splash draws the boot screen: product name and version centred on black.
func Splash(fb *image.RGBA, name, version string) {
	fillColor(fb, color.RGBA{A: 0xFF})
	b := fb.Bounds()
	mid := b.Min.Y + b.Dy()/2
	widget.DrawString(fb, image.Rect(b.Min.X, mid-20, b.Max.X, mid), name, splashColor, "center")
	if version != "" {
		widget.DrawString(fb, image.Rect(b.Min.X, mid, b.Max.X, mid+20), version, splashColor, "center")
	}
}
