package widget

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s1panel/internal/model"
)

func writePNG(t *testing.T, path string, size int, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	fill(img, img.Bounds(), c)
	// Top-left pixel is fully transparent.
	img.SetRGBA(0, 0, color.RGBA{})
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func TestImageSameSizeKeepsTransparency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logo.png")
	red := color.RGBA{R: 0xFF, A: 0xFF}
	writePNG(t, path, 8, red)

	img := canvas()
	rect := image.Rect(20, 30, 28, 38)
	require.NoError(t, Builtins().Render(model.WidgetImage, img, rect, nil, path))
	assert.Equal(t, black, img.RGBAAt(20, 30), "transparent pixel keeps the background")
	assert.Equal(t, red, img.RGBAAt(25, 35))
	assert.False(t, outside(img, rect))
}

func TestImageScaledToRect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logo.png")
	green := color.RGBA{G: 0xFF, A: 0xFF}
	writePNG(t, path, 4, green)

	img := canvas()
	rect := image.Rect(100, 50, 140, 90)
	require.NoError(t, Builtins().Render(model.WidgetImage, img, rect, map[string]any{"path": path}, nil))
	assert.Equal(t, green, img.RGBAAt(130, 80))
	assert.False(t, outside(img, rect))
}

func TestImageWithoutPathDrawsNothing(t *testing.T) {
	img := canvas()
	require.NoError(t, Builtins().Render(model.WidgetImage, img, image.Rect(0, 0, 10, 10), nil, ""))
	assert.False(t, outside(img, image.Rectangle{}))
}

func TestImageMissingOrInvalidFile(t *testing.T) {
	dir := t.TempDir()
	err := Builtins().Render(model.WidgetImage, canvas(), image.Rect(0, 0, 10, 10), nil, filepath.Join(dir, "gone.png"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("not an image"), 0o644))
	err = Builtins().Render(model.WidgetImage, canvas(), image.Rect(0, 0, 10, 10), nil, bad)
	assert.ErrorContains(t, err, "decode")
}

func TestImageReloadedWhenFileChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logo.png")
	red := color.RGBA{R: 0xFF, A: 0xFF}
	blue := color.RGBA{B: 0xFF, A: 0xFF}
	writePNG(t, path, 8, red)

	table := Builtins()
	rect := image.Rect(0, 0, 8, 8)
	img := canvas()
	require.NoError(t, table.Render(model.WidgetImage, img, rect, nil, path))
	assert.Equal(t, red, img.RGBAAt(4, 4))

	writePNG(t, path, 8, blue)
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))

	img = canvas()
	require.NoError(t, table.Render(model.WidgetImage, img, rect, nil, path))
	assert.Equal(t, blue, img.RGBAAt(4, 4))
}
