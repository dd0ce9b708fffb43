package model

import (
	"image"
	"strings"
)

// Rect is a widget rectangle in logical canvas coordinates.
type Rect struct {
	X      int `yaml:"x" json:"x"`
	Y      int `yaml:"y" json:"y"`
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// Image converts r into an image.Rectangle.
func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// WidgetKind identifies a widget renderer. Kinds are resolved from their
// string names once, when the registry is loaded.
type WidgetKind int

const (
	WidgetUnknown WidgetKind = iota
	WidgetText
	WidgetBarChart
	WidgetLineChart
	WidgetDoughnutChart
	WidgetImage
)

var widgetKindNames = map[WidgetKind]string{
	WidgetText:          "text",
	WidgetBarChart:      "bar_chart",
	WidgetLineChart:     "line_chart",
	WidgetDoughnutChart: "doughnut_chart",
	WidgetImage:         "image",
}

func (k WidgetKind) String() string {
	if n, ok := widgetKindNames[k]; ok {
		return n
	}
	return "unknown"
}

// ParseWidgetKind returns WidgetUnknown for names that have no renderer.
func ParseWidgetKind(name string) WidgetKind {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range widgetKindNames {
		if n == name {
			return k
		}
	}
	return WidgetUnknown
}

// SensorNode describes one configured telemetry source.
type SensorNode struct {
	ID     string         `yaml:"id" json:"id"`
	Kind   string         `yaml:"type" json:"type"`
	Name   string         `yaml:"name" json:"name"`
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// Widget is a positioned renderable bound to at most one sensor.
type Widget struct {
	ID         string         `yaml:"id" json:"id"`
	Type       string         `yaml:"type" json:"type"`
	Name       string         `yaml:"name" json:"name"`
	SensorID   string         `yaml:"sensor_id,omitempty" json:"sensor_id,omitempty"`
	Rect       Rect           `yaml:"rect" json:"rect"`
	Properties map[string]any `yaml:"properties,omitempty" json:"properties,omitempty"`

	// Kind is derived from Type at load time.
	Kind WidgetKind `yaml:"-" json:"-"`
}

// LEDSetting is a theme/intensity/speed triple for the LED strip.
type LEDSetting struct {
	Theme     int `yaml:"theme" json:"theme"`
	Intensity int `yaml:"intensity" json:"intensity"`
	Speed     int `yaml:"speed" json:"speed"`
}

// Screen is an ordered collection of widgets sharing a background.
type Screen struct {
	ID         string      `yaml:"id" json:"id"`
	Name       string      `yaml:"name" json:"name"`
	Background string      `yaml:"background" json:"background"`
	WidgetIDs  []string    `yaml:"widget_ids" json:"widget_ids"`
	LED        *LEDSetting `yaml:"led,omitempty" json:"led,omitempty"`
}

// Theme owns an ordered list of screens plus presentation settings.
type Theme struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Orientation string `yaml:"orientation" json:"orientation"`
	Refresh     string `yaml:"refresh" json:"refresh"`
	// RotationInterval is in milliseconds; zero means "use the global default".
	RotationInterval int      `yaml:"rotation_interval" json:"rotation_interval"`
	ScreenIDs        []string `yaml:"screen_ids" json:"screen_ids"`
}

// Portrait reports whether the theme asks for portrait orientation.
func (t *Theme) Portrait() bool {
	return strings.EqualFold(t.Orientation, "portrait")
}

// Registry is an immutable snapshot of every descriptor. The pipeline only
// reads it; reloads replace the whole snapshot.
type Registry struct {
	Sensors       map[string]SensorNode `yaml:"sensors" json:"sensors"`
	Widgets       map[string]Widget     `yaml:"widgets" json:"widgets"`
	Screens       map[string]Screen     `yaml:"screens" json:"screens"`
	Themes        map[string]Theme      `yaml:"themes" json:"themes"`
	ActiveThemeID string                `yaml:"active_theme_id" json:"active_theme_id"`
}

// ActiveTheme returns the active theme or nil.
func (r *Registry) ActiveTheme() *Theme {
	if r == nil || r.ActiveThemeID == "" {
		return nil
	}
	t, ok := r.Themes[r.ActiveThemeID]
	if !ok {
		return nil
	}
	return &t
}

// Reading is the value produced by one sensor sample. Either Value is set
// (scalar, string or numeric history) or Fields is (composite reading).
type Reading struct {
	Value  any
	Fields map[string]any
}

// Scalar builds a non-composite reading.
func Scalar(v any) Reading { return Reading{Value: v} }

// Composite builds a reading with named fields.
func Composite(fields map[string]any) Reading { return Reading{Fields: fields} }

// IsComposite reports whether the reading carries named fields.
func (r Reading) IsComposite() bool { return r.Fields != nil }
