package widget

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"
	"time"

	xdraw "golang.org/x/image/draw"
)

type imageKey struct {
	path string
	size image.Point
}

type cachedImage struct {
	img     image.Image
	modTime time.Time
}

// imageRenderer draws a PNG or JPEG file scaled to the widget rectangle.
// Decoded and scaled images are kept until the file's mtime changes.
type imageRenderer struct {
	mu    sync.Mutex
	cache map[imageKey]cachedImage
}

func newImageRenderer() *imageRenderer {
	return &imageRenderer{cache: map[imageKey]cachedImage{}}
}

// Render takes the path from a string value, else from the "path" property.
// No path draws nothing. Transparent pixels keep the background.
func (r *imageRenderer) Render(dst draw.Image, rect image.Rectangle, props map[string]any, value any) error {
	path, _ := value.(string)
	if path == "" {
		path = propString(props, "path", "")
	}
	if path == "" {
		return nil
	}
	img, err := r.load(path, rect.Size())
	if err != nil {
		return err
	}
	draw.Draw(dst, rect, img, img.Bounds().Min, draw.Over)
	return nil
}

func (r *imageRenderer) load(path string, size image.Point) (image.Image, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("widget: image: %w", err)
	}
	key := imageKey{path: path, size: size}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.cache[key]; ok && c.modTime.Equal(fi.ModTime()) {
		return c.img, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("widget: image: %w", err)
	}
	defer f.Close()
	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("widget: decode %s: %w", path, err)
	}

	img := src
	if src.Bounds().Size() != size {
		scaled := image.NewRGBA(image.Rectangle{Max: size})
		xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), src, src.Bounds(), xdraw.Src, nil)
		img = scaled
	}
	r.cache[key] = cachedImage{img: img, modTime: fi.ModTime()}
	return img, nil
}
