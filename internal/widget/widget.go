// Package widget paints a single value into a rectangle of the canvas.
package widget

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"
	"strings"

	"s1panel/internal/model"
)

var (
	ErrUnknownKind = errors.New("widget: unknown kind")
	ErrValue       = errors.New("widget: value not renderable")
)

// Renderer paints value into rect of dst. It must not touch pixels outside
// rect. props are the widget's free-form properties.
type Renderer interface {
	Render(dst draw.Image, rect image.Rectangle, props map[string]any, value any) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(dst draw.Image, rect image.Rectangle, props map[string]any, value any) error

func (f RendererFunc) Render(dst draw.Image, rect image.Rectangle, props map[string]any, value any) error {
	return f(dst, rect, props, value)
}

// Table maps widget kinds to renderers.
type Table map[model.WidgetKind]Renderer

// Builtins returns the renderers shipped with the service.
func Builtins() Table {
	return Table{
		model.WidgetText:          RendererFunc(renderText),
		model.WidgetBarChart:      RendererFunc(renderBar),
		model.WidgetLineChart:     RendererFunc(renderLine),
		model.WidgetDoughnutChart: RendererFunc(renderDoughnut),
		model.WidgetImage:         newImageRenderer(),
	}
}

// Render dispatches to the renderer registered for kind.
func (t Table) Render(kind model.WidgetKind, dst draw.Image, rect image.Rectangle, props map[string]any, value any) error {
	r, ok := t[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return r.Render(clip(dst, rect), rect, props, value)
}

// clipped narrows Bounds so image/draw and font drawing stay inside rect.
type clipped struct {
	draw.Image
	r image.Rectangle
}

func (c clipped) Bounds() image.Rectangle { return c.r }

func (c clipped) Set(x, y int, col color.Color) {
	if image.Pt(x, y).In(c.r) {
		c.Image.Set(x, y, col)
	}
}

func clip(dst draw.Image, r image.Rectangle) draw.Image {
	return clipped{Image: dst, r: r.Intersect(dst.Bounds())}
}

// ParseColor accepts #rrggbb or #rgb.
func ParseColor(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("widget: bad color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("widget: bad color %q", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xFF}, nil
}

func propColor(props map[string]any, key string, def color.RGBA) (color.RGBA, error) {
	s, ok := props[key].(string)
	if !ok || s == "" {
		return def, nil
	}
	return ParseColor(s)
}

func propString(props map[string]any, key, def string) string {
	if s, ok := props[key].(string); ok && s != "" {
		return s
	}
	return def
}

func propFloat(props map[string]any, key string, def float64) float64 {
	if v, ok := number(props[key]); ok {
		return v
	}
	return def
}

// number converts the numeric shapes a reading may take.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// series converts a history reading into points.
func series(v any) ([]float64, bool) {
	switch s := v.(type) {
	case []float64:
		return s, true
	case []int:
		out := make([]float64, len(s))
		for i, n := range s {
			out[i] = float64(n)
		}
		return out, true
	case []any:
		out := make([]float64, 0, len(s))
		for _, e := range s {
			f, ok := number(e)
			if !ok {
				return nil, false
			}
			out = append(out, f)
		}
		return out, true
	case string:
		var out []float64
		for _, part := range strings.Split(s, ",") {
			f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return nil, false
			}
			out = append(out, f)
		}
		return out, true
	default:
		return nil, false
	}
}

func fill(dst draw.Image, r image.Rectangle, c color.Color) {
	draw.Draw(dst, r, &image.Uniform{C: c}, image.Point{}, draw.Src)
}
