package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	appLog "s1panel/internal/log"
	"s1panel/internal/model"
)

// LoadRegistry reads the theme registry. A missing file is seeded with
// DefaultRegistry and written back.
func LoadRegistry(path string) (*model.Registry, error) {
	if path == "" {
		return nil, errors.New("registry path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			reg := DefaultRegistry()
			if err := SaveRegistry(path, reg); err != nil {
				return reg, err
			}
			return reg, nil
		}
		return nil, err
	}

	return ParseRegistry(data)
}

// ParseRegistry decodes and resolves a registry document.
func ParseRegistry(data []byte) (*model.Registry, error) {
	var reg model.Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("config: registry: %w", err)
	}
	ResolveRegistry(&reg)
	return &reg, nil
}

// ResolveRegistry fills map keys into descriptor ids and resolves widget
// kinds once so the render path never looks names up.
func ResolveRegistry(reg *model.Registry) {
	if reg.Sensors == nil {
		reg.Sensors = map[string]model.SensorNode{}
	}
	if reg.Widgets == nil {
		reg.Widgets = map[string]model.Widget{}
	}
	if reg.Screens == nil {
		reg.Screens = map[string]model.Screen{}
	}
	if reg.Themes == nil {
		reg.Themes = map[string]model.Theme{}
	}
	for id, s := range reg.Sensors {
		s.ID = id
		reg.Sensors[id] = s
	}
	for id, w := range reg.Widgets {
		w.ID = id
		w.Kind = model.ParseWidgetKind(w.Type)
		if w.Kind == model.WidgetUnknown {
			appLog.Warn("registry: widget has unknown type", "widget", id, "type", w.Type)
		}
		reg.Widgets[id] = w
	}
	for id, s := range reg.Screens {
		s.ID = id
		reg.Screens[id] = s
	}
	for id, t := range reg.Themes {
		t.ID = id
		reg.Themes[id] = t
	}
}

// SaveRegistry writes reg atomically as YAML.
func SaveRegistry(path string, reg *model.Registry) error {
	if reg == nil {
		return errors.New("registry is nil")
	}
	data, err := yaml.Marshal(reg)
	if err != nil {
		return err
	}
	return writeAtomic(path, data, ".s1panel-registry-*.tmp")
}

// DefaultRegistry is the first-run theme: a system screen, a network
// screen and a clock screen rotating every minute.
func DefaultRegistry() *model.Registry {
	reg := &model.Registry{
		Sensors: map[string]model.SensorNode{
			"s_cpu":  {Kind: "cpu_usage", Name: "CPU Usage"},
			"s_temp": {Kind: "cpu_temp", Name: "CPU Temp"},
			"s_mem":  {Kind: "memory", Name: "Memory"},
			"s_clk":  {Kind: "clock", Name: "Clock"},
			"s_cal":  {Kind: "calendar", Name: "Calendar"},
			"s_net":  {Kind: "network", Name: "Network"},
			"s_spc":  {Kind: "space", Name: "Storage Space"},
		},
		Widgets: map[string]model.Widget{
			"w_clk": {
				Type:       "text",
				Name:       "Clock Text",
				SensorID:   "s_clk",
				Rect:       model.Rect{X: 0, Y: 4, Width: 320, Height: 16},
				Properties: map[string]any{"color": "#00d4ff", "align": "center"},
			},
			"w_cal": {
				Type:       "text",
				Name:       "Date Text",
				SensorID:   "s_cal",
				Rect:       model.Rect{X: 0, Y: 150, Width: 316, Height: 16},
				Properties: map[string]any{"color": "#4a6080", "align": "right"},
			},
			"w_cpu_ring": {
				Type:       "doughnut_chart",
				Name:       "CPU Ring",
				SensorID:   "s_cpu",
				Rect:       model.Rect{X: 20, Y: 30, Width: 100, Height: 100},
				Properties: map[string]any{"used": "#00d4ff", "free": "#0d1e2d"},
			},
			"w_cpu_text": {
				Type:       "text",
				Name:       "CPU Text",
				SensorID:   "s_cpu",
				Rect:       model.Rect{X: 20, Y: 72, Width: 100, Height: 16},
				Properties: map[string]any{"color": "#00d4ff", "align": "center", "format": "{0}%"},
			},
			"w_mem_ring": {
				Type:       "doughnut_chart",
				Name:       "Memory Ring",
				SensorID:   "s_mem",
				Rect:       model.Rect{X: 200, Y: 30, Width: 100, Height: 100},
				Properties: map[string]any{"used": "#a855f7", "free": "#1a0d2e"},
			},
			"w_mem_text": {
				Type:       "text",
				Name:       "Memory Text",
				SensorID:   "s_mem",
				Rect:       model.Rect{X: 200, Y: 72, Width: 100, Height: 16},
				Properties: map[string]any{"color": "#a855f7", "align": "center", "format": "{0}%"},
			},
			"w_temp_text": {
				Type:       "text",
				Name:       "Temp Text",
				SensorID:   "s_temp",
				Rect:       model.Rect{X: 120, Y: 72, Width: 80, Height: 16},
				Properties: map[string]any{"color": "#f59e0b", "align": "center", "format": "{0}C"},
			},
			"w_net_line": {
				Type:       "line_chart",
				Name:       "Network Chart",
				SensorID:   "s_net",
				Rect:       model.Rect{X: 10, Y: 40, Width: 300, Height: 90},
				Properties: map[string]any{"outline": "#00d4ff"},
			},
			"w_spc_bar": {
				Type:       "bar_chart",
				Name:       "Storage Bar",
				SensorID:   "s_spc",
				Rect:       model.Rect{X: 10, Y: 130, Width: 300, Height: 12},
				Properties: map[string]any{"used": "#10b981", "free": "#0d2d22"},
			},
		},
		Screens: map[string]model.Screen{
			"sc_sys": {
				Name:       "System Status",
				Background: "#060a10",
				WidgetIDs:  []string{"w_clk", "w_cpu_ring", "w_cpu_text", "w_temp_text", "w_mem_ring", "w_mem_text", "w_cal"},
			},
			"sc_net": {
				Name:       "Network",
				Background: "#060a10",
				WidgetIDs:  []string{"w_clk", "w_net_line", "w_spc_bar"},
			},
			"sc_clk": {
				Name:       "Clock Date",
				Background: "#060a10",
				WidgetIDs:  []string{"w_clk", "w_cal"},
			},
		},
		Themes: map[string]model.Theme{
			"th_default": {
				Name:             "Default",
				Orientation:      "landscape",
				Refresh:          "redraw",
				RotationInterval: DefaultRotationMs,
				ScreenIDs:        []string{"sc_sys", "sc_net", "sc_clk"},
			},
		},
		ActiveThemeID: "th_default",
	}
	ResolveRegistry(reg)
	return reg
}
