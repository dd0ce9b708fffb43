package widget

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var white = color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}

// Face is the font used by text widgets and the splash screen.
var Face font.Face = basicfont.Face7x13

func renderText(dst draw.Image, rect image.Rectangle, props map[string]any, value any) error {
	c, err := propColor(props, "color", white)
	if err != nil {
		return err
	}
	s := Format(propString(props, "format", "{0}"), value)
	DrawString(dst, rect, s, c, propString(props, "align", "left"))
	return nil
}

// DrawString draws s vertically centred in rect with the given alignment.
func DrawString(dst draw.Image, rect image.Rectangle, s string, c color.Color, align string) {
	d := font.Drawer{Dst: dst, Src: image.NewUniform(c), Face: Face}
	width := d.MeasureString(s).Ceil()

	x := rect.Min.X
	switch align {
	case "center":
		x += (rect.Dx() - width) / 2
	case "right":
		x = rect.Max.X - width
	}
	m := Face.Metrics()
	height := (m.Ascent + m.Descent).Ceil()
	y := rect.Min.Y + (rect.Dy()-height)/2 + m.Ascent.Ceil()

	d.Dot = fixed.P(x, y)
	d.DrawString(s)
}

// Format replaces {N} placeholders. A list value fills {0}, {1}, ... in
// order; any other value fills {0}. A missing value renders as "--".
func Format(format string, value any) string {
	args := []string{"--"}
	switch v := value.(type) {
	case nil:
	case []string:
		args = v
	case []any:
		args = make([]string, len(v))
		for i, e := range v {
			args[i] = formatValue(e)
		}
	default:
		args = []string{formatValue(v)}
	}
	out := format
	for i, a := range args {
		out = strings.ReplaceAll(out, "{"+strconv.Itoa(i)+"}", a)
	}
	return out
}

func formatValue(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	case []float64:
		if len(n) == 0 {
			return ""
		}
		return formatValue(n[len(n)-1])
	default:
		return fmt.Sprint(v)
	}
}
