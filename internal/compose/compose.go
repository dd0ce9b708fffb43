// Package compose turns the active screen and the cycle's readings into a
// framebuffer.
package compose

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	appLog "s1panel/internal/log"
	"s1panel/internal/model"
	"s1panel/internal/rotation"
	"s1panel/internal/widget"
)

// Panel geometry in landscape.
const (
	Width  = 320
	Height = 170
)

// WidgetFailure records a widget whose rectangle was left unpainted.
type WidgetFailure struct {
	WidgetID string `json:"widget_id"`
	Kind     string `json:"kind"`
	Err      string `json:"error"`
}

// Result describes what one Compose call drew.
type Result struct {
	ThemeID      string
	ScreenID     string
	Index        int
	ThemeChanged bool
	Rotated      bool
	Portrait     bool
	// LED is the active screen's LED override, if any.
	LED      *model.LEDSetting
	Failures []WidgetFailure
}

// Observer is told about widget failures. metrics.Pipeline implements it.
type Observer interface {
	WidgetFailed(kind string)
}

// Compositor owns the rotation state; one instance per scheduler.
type Compositor struct {
	rot     *rotation.Machine
	table   widget.Table
	obs     Observer
	logical *image.RGBA
}

func New(rot *rotation.Machine, table widget.Table, obs Observer) *Compositor {
	return &Compositor{rot: rot, table: table, obs: obs}
}

// Rotation exposes the machine for status reporting.
func (c *Compositor) Rotation() *rotation.Machine { return c.rot }

// Compose draws the active screen of reg into fb. readings is keyed by
// sensor id; a missing entry means the sensor failed this cycle. Widget
// failures are isolated and reported in Result.
func (c *Compositor) Compose(fb *image.RGBA, reg *model.Registry, readings map[string]model.Reading, now time.Time) Result {
	theme := reg.ActiveTheme()
	step := c.rot.Advance(theme, now)
	res := Result{
		ScreenID:     step.ScreenID,
		Index:        step.Index,
		ThemeChanged: step.ThemeChanged,
		Rotated:      step.Rotated,
	}
	if theme != nil {
		res.ThemeID = theme.ID
		res.Portrait = theme.Portrait()
	}

	target := fb
	if res.Portrait {
		if c.logical == nil {
			c.logical = image.NewRGBA(image.Rect(0, 0, Height, Width))
		}
		target = c.logical
	}

	screen, ok := reg.Screens[step.ScreenID]
	if !ok {
		fillColor(target, color.RGBA{A: 0xFF})
		if res.Portrait {
			rotateInto(fb, target)
		}
		return res
	}
	res.LED = screen.LED

	bg, err := widget.ParseColor(screen.Background)
	if err != nil {
		bg = color.RGBA{A: 0xFF}
	}
	fillColor(target, bg)

	for _, id := range screen.WidgetIDs {
		w, ok := reg.Widgets[id]
		if !ok {
			res.Failures = append(res.Failures, c.fail(id, "missing", fmt.Errorf("widget %q not in registry", id)))
			continue
		}
		value := c.value(reg, w, readings)
		if err := c.render(target, w, value); err != nil {
			res.Failures = append(res.Failures, c.fail(id, w.Kind.String(), err))
		}
	}

	if res.Portrait {
		rotateInto(fb, target)
	}
	return res
}

func (c *Compositor) value(reg *model.Registry, w model.Widget, readings map[string]model.Reading) any {
	if w.SensorID == "" {
		return nil
	}
	r, ok := readings[w.SensorID]
	if !ok {
		return nil
	}
	field, _ := w.Properties["field"].(string)
	return Reduce(reg.Sensors[w.SensorID].Kind, r, field)
}

// render paints into a scratch copy of the widget's rectangle and copies it
// back only on success, so a failing renderer leaves no partial pixels.
func (c *Compositor) render(dst *image.RGBA, w model.Widget, value any) (err error) {
	rect := w.Rect.Image().Intersect(dst.Bounds())
	if rect.Empty() {
		return nil
	}
	scratch := image.NewRGBA(rect)
	draw.Draw(scratch, rect, dst, rect.Min, draw.Src)

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("renderer panicked: %v", p)
		}
	}()
	if err := c.table.Render(w.Kind, scratch, rect, w.Properties, value); err != nil {
		return err
	}
	draw.Draw(dst, rect, scratch, rect.Min, draw.Src)
	return nil
}

func (c *Compositor) fail(id, kind string, err error) WidgetFailure {
	appLog.Warn("widget render failed", "widget", id, "kind", kind, "err", err)
	if c.obs != nil {
		c.obs.WidgetFailed(kind)
	}
	return WidgetFailure{WidgetID: id, Kind: kind, Err: err.Error()}
}

func fillColor(img *image.RGBA, c color.RGBA) {
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
}

// rotateInto maps a 170x320 logical canvas onto the 320x170 panel:
// x = ly, y = 169 - lx.
func rotateInto(fb, logical *image.RGBA) {
	lb := logical.Bounds()
	for ly := lb.Min.Y; ly < lb.Max.Y; ly++ {
		for lx := lb.Min.X; lx < lb.Max.X; lx++ {
			fb.SetRGBA(ly, Height-1-lx, logical.RGBAAt(lx, ly))
		}
	}
}
