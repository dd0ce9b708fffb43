package widget

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
)

var (
	defaultUsed = color.RGBA{R: 0x00, G: 0xD4, B: 0xFF, A: 0xFF}
	defaultFree = color.RGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xFF}
)

// fraction maps value into [0,1] over the widget's min/max.
func fraction(props map[string]any, value any) (float64, error) {
	if value == nil {
		return 0, nil
	}
	v, ok := number(value)
	if !ok {
		return 0, fmt.Errorf("%w: %T", ErrValue, value)
	}
	lo := propFloat(props, "min", 0)
	hi := propFloat(props, "max", 100)
	if hi <= lo {
		return 0, fmt.Errorf("widget: max %v not above min %v", hi, lo)
	}
	return math.Min(1, math.Max(0, (v-lo)/(hi-lo))), nil
}

func renderBar(dst draw.Image, rect image.Rectangle, props map[string]any, value any) error {
	used, err := propColor(props, "used", defaultUsed)
	if err != nil {
		return err
	}
	free, err := propColor(props, "free", defaultFree)
	if err != nil {
		return err
	}
	f, err := fraction(props, value)
	if err != nil {
		return err
	}

	fill(dst, rect, free)
	bar := rect
	if propString(props, "direction", "horizontal") == "vertical" {
		bar.Min.Y = rect.Max.Y - int(math.Round(f*float64(rect.Dy())))
	} else {
		bar.Max.X = rect.Min.X + int(math.Round(f*float64(rect.Dx())))
	}
	fill(dst, bar, used)
	return nil
}

func renderLine(dst draw.Image, rect image.Rectangle, props map[string]any, value any) error {
	outline, err := propColor(props, "outline", defaultUsed)
	if err != nil {
		return err
	}
	if value == nil {
		return nil
	}
	pts, ok := series(value)
	if !ok {
		if v, isNum := number(value); isNum {
			pts = []float64{v}
		} else {
			return fmt.Errorf("%w: %T", ErrValue, value)
		}
	}
	if len(pts) == 0 || rect.Dx() < 2 || rect.Dy() < 1 {
		return nil
	}
	if bg, ok := props["fill"].(string); ok && bg != "" {
		c, err := ParseColor(bg)
		if err != nil {
			return err
		}
		fill(dst, rect, c)
	}

	hi := propFloat(props, "max", 0)
	for _, p := range pts {
		hi = math.Max(hi, p)
	}
	if hi <= 0 {
		hi = 1
	}

	// Newest point is at the right edge; older points scroll left.
	n := min(len(pts), rect.Dx())
	pts = pts[len(pts)-n:]
	step := float64(rect.Dx()-1) / float64(max(n-1, 1))
	ypos := func(v float64) int {
		return rect.Max.Y - 1 - int(math.Round(math.Max(0, v)/hi*float64(rect.Dy()-1)))
	}
	px, py := rect.Min.X, ypos(pts[0])
	if n == 1 {
		px = rect.Max.X - 1
	}
	dst.Set(px, py, outline)
	for i := 1; i < n; i++ {
		x := rect.Min.X + int(math.Round(float64(i)*step))
		y := ypos(pts[i])
		line(dst, px, py, x, y, outline)
		px, py = x, y
	}
	return nil
}

func renderDoughnut(dst draw.Image, rect image.Rectangle, props map[string]any, value any) error {
	used, err := propColor(props, "used", defaultUsed)
	if err != nil {
		return err
	}
	free, err := propColor(props, "free", defaultFree)
	if err != nil {
		return err
	}
	f, err := fraction(props, value)
	if err != nil {
		return err
	}

	size := min(rect.Dx(), rect.Dy())
	outer := float64(size) / 2
	thick := propFloat(props, "thickness", math.Max(2, outer/4))
	inner := outer - thick
	cx := float64(rect.Min.X) + float64(rect.Dx())/2
	cy := float64(rect.Min.Y) + float64(rect.Dy())/2

	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			dx, dy := float64(x)+0.5-cx, float64(y)+0.5-cy
			d := math.Hypot(dx, dy)
			if d > outer || d < inner {
				continue
			}
			// Clockwise from 12 o'clock.
			a := math.Atan2(dx, -dy)
			if a < 0 {
				a += 2 * math.Pi
			}
			if a/(2*math.Pi) < f {
				dst.Set(x, y, used)
			} else {
				dst.Set(x, y, free)
			}
		}
	}
	return nil
}

// line draws with Bresenham's algorithm.
func line(dst draw.Image, x0, y0, x1, y1 int, c color.Color) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		dst.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
