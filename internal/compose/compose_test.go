package compose

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s1panel/internal/model"
	"s1panel/internal/rotation"
	"s1panel/internal/widget"
)

var (
	red   = color.RGBA{R: 0xFF, A: 0xFF}
	green = color.RGBA{G: 0xFF, A: 0xFF}
	navy  = color.RGBA{B: 0x80, A: 0xFF}
)

// solid paints its rect with the "color" property; a "fail" property makes
// it paint half the rect first and then error.
func solid(dst draw.Image, rect image.Rectangle, props map[string]any, value any) error {
	c, _ := widget.ParseColor(props["color"].(string))
	if props["fail"] == true {
		half := rect
		half.Max.X = rect.Min.X + rect.Dx()/2
		draw.Draw(dst, half, &image.Uniform{C: c}, image.Point{}, draw.Src)
		return errors.New("renderer failed")
	}
	if props["panic"] == true {
		panic("renderer bug")
	}
	if value == nil {
		return errors.New("no value")
	}
	draw.Draw(dst, rect, &image.Uniform{C: c}, image.Point{}, draw.Src)
	return nil
}

type recorder []string

func (r *recorder) WidgetFailed(kind string) { *r = append(*r, kind) }

func newCompositor(obs Observer) *Compositor {
	return New(rotation.New(time.Minute), widget.Table{model.WidgetText: widget.RendererFunc(solid)}, obs)
}

func registry() *model.Registry {
	w := func(sensor string, x int, props map[string]any) model.Widget {
		return model.Widget{
			Kind:       model.WidgetText,
			SensorID:   sensor,
			Rect:       model.Rect{X: x, Y: 10, Width: 20, Height: 20},
			Properties: props,
		}
	}
	return &model.Registry{
		Sensors: map[string]model.SensorNode{
			"s_temp": {Kind: "cpu_temp"},
			"s_mem":  {Kind: "memory"},
		},
		Widgets: map[string]model.Widget{
			"temp":   w("s_temp", 0, map[string]any{"color": "#ff0000"}),
			"mem":    w("s_mem", 40, map[string]any{"color": "#00ff00"}),
			"broken": w("s_mem", 80, map[string]any{"color": "#00ff00", "fail": true}),
			"buggy":  w("s_mem", 120, map[string]any{"color": "#00ff00", "panic": true}),
		},
		Screens: map[string]model.Screen{
			"main": {Background: "#000080", WidgetIDs: []string{"temp", "mem", "broken", "buggy", "ghost"}},
			"alt":  {Background: "#000000", LED: &model.LEDSetting{Theme: 2, Intensity: 3, Speed: 3}},
		},
		Themes: map[string]model.Theme{
			"th": {ID: "th", ScreenIDs: []string{"main", "alt"}},
		},
		ActiveThemeID: "th",
	}
}

func frame() *image.RGBA { return image.NewRGBA(image.Rect(0, 0, Width, Height)) }

func TestReduce(t *testing.T) {
	temp := model.Composite(map[string]any{"temperature": 61, "value": 1})
	assert.Equal(t, 61, Reduce("cpu_temp", temp, ""))
	assert.Equal(t, 1, Reduce("cpu_temp", temp, "value"))
	assert.Equal(t, 61, Reduce("cpu_temp", temp, "missing_field"), "unknown field falls back to the list")
	assert.Equal(t, 1, Reduce("cpu_temp", model.Composite(map[string]any{"value": 1}), ""))

	net := model.Composite(map[string]any{"rx": 5.0, "rx_history": []float64{1, 2}})
	assert.Equal(t, []float64{1, 2}, Reduce("network", net, ""))

	assert.Nil(t, Reduce("memory", model.Composite(map[string]any{"total": 8}), ""))
	assert.Equal(t, 3, Reduce("custom", model.Composite(map[string]any{"value": 3}), ""))
	assert.Equal(t, 42.5, Reduce("cpu_usage", model.Scalar(42.5), ""))
}

func TestFailedSensorDoesNotBlockOtherWidgets(t *testing.T) {
	var failed recorder
	c := newCompositor(&failed)
	fb := frame()

	// s_temp failed this cycle: no entry.
	readings := map[string]model.Reading{
		"s_mem": model.Composite(map[string]any{"used_percent": 40.0}),
	}
	res := c.Compose(fb, registry(), readings, time.Unix(0, 0))

	assert.Equal(t, "main", res.ScreenID)
	assert.True(t, res.ThemeChanged)
	assert.Equal(t, green, fb.RGBAAt(45, 15), "widget bound to a healthy sensor rendered")
	assert.Equal(t, navy, fb.RGBAAt(5, 15), "widget of the failed sensor left unpainted")

	var ids []string
	for _, f := range res.Failures {
		ids = append(ids, f.WidgetID)
	}
	assert.ElementsMatch(t, []string{"temp", "broken", "buggy", "ghost"}, ids)
	assert.Len(t, failed, 4)
}

func TestFailedWidgetLeavesNoPartialPixels(t *testing.T) {
	c := newCompositor(nil)
	fb := frame()
	readings := map[string]model.Reading{"s_mem": model.Scalar(1)}
	c.Compose(fb, registry(), readings, time.Unix(0, 0))

	for x := 80; x < 100; x++ {
		require.Equal(t, navy, fb.RGBAAt(x, 15), "x=%d", x)
	}
	assert.Equal(t, navy, fb.RGBAAt(125, 15))
}

func TestRotationAndScreenLED(t *testing.T) {
	c := newCompositor(nil)
	reg := registry()
	t0 := time.Unix(0, 0)

	res := c.Compose(frame(), reg, nil, t0)
	assert.Nil(t, res.LED)

	res = c.Compose(frame(), reg, nil, t0.Add(time.Minute))
	assert.Equal(t, "alt", res.ScreenID)
	assert.True(t, res.Rotated)
	require.NotNil(t, res.LED)
	assert.Equal(t, 2, res.LED.Theme)
}

func TestNoActiveThemeDrawsBlack(t *testing.T) {
	c := newCompositor(nil)
	fb := frame()
	fillColor(fb, red)
	reg := registry()
	reg.ActiveThemeID = ""

	res := c.Compose(fb, reg, nil, time.Unix(0, 0))
	assert.Empty(t, res.ScreenID)
	assert.Equal(t, color.RGBA{A: 0xFF}, fb.RGBAAt(160, 85))
}

func TestPortraitRotation(t *testing.T) {
	c := newCompositor(nil)
	reg := &model.Registry{
		Widgets: map[string]model.Widget{
			"corner": {Kind: model.WidgetText, Rect: model.Rect{Width: 1, Height: 1}, Properties: map[string]any{"color": "#ff0000"}},
		},
		Screens: map[string]model.Screen{
			"s": {Background: "#000000", WidgetIDs: []string{"corner"}},
		},
		Themes: map[string]model.Theme{
			"p": {ID: "p", Orientation: "portrait", ScreenIDs: []string{"s"}},
		},
		ActiveThemeID: "p",
	}
	// The corner widget has no sensor; paint it regardless of the nil value.
	c.table[model.WidgetText] = widget.RendererFunc(func(dst draw.Image, rect image.Rectangle, props map[string]any, _ any) error {
		return solid(dst, rect, props, true)
	})

	fb := frame()
	res := c.Compose(fb, reg, nil, time.Unix(0, 0))
	require.True(t, res.Portrait)
	// Logical (0,0) lands at physical (0,169).
	assert.Equal(t, red, fb.RGBAAt(0, Height-1))
	assert.Equal(t, color.RGBA{A: 0xFF}, fb.RGBAAt(0, 0))
}

func TestSplash(t *testing.T) {
	fb := frame()
	Splash(fb, "s1panel", "v1.0.0")
	lit := 0
	for y := 0; y < Height; y++ {
		for x := 0; x < Width; x++ {
			if fb.RGBAAt(x, y) == splashColor {
				lit++
			}
		}
	}
	assert.Greater(t, lit, 20)
	assert.Equal(t, color.RGBA{A: 0xFF}, fb.RGBAAt(0, 0))
}
