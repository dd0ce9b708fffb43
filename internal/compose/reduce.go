package compose

import "s1panel/internal/model"

// reductions lists, per sensor kind, the composite fields tried in order
// when a widget needs a single value.
var reductions = map[string][]string{
	"cpu_temp":  {"temp", "temperature", "value"},
	"cpu_power": {"watts", "value"},
	"memory":    {"used_percent", "value"},
	"space":     {"used_percent", "value"},
	"network":   {"rx_history", "value"},
	"battery":   {"percent", "value"},
	"clock":     {"time", "value"},
	"calendar":  {"date", "value"},
}

var defaultReduction = []string{"value"}

// Reduce collapses a reading to the value a widget renders. field, when
// non-empty and present, overrides the kind's list. A composite reading
// with none of the listed fields reduces to nil.
func Reduce(kind string, r model.Reading, field string) any {
	if !r.IsComposite() {
		return r.Value
	}
	if field != "" {
		if v, ok := r.Fields[field]; ok {
			return v
		}
	}
	keys, ok := reductions[kind]
	if !ok {
		keys = defaultReduction
	}
	for _, k := range keys {
		if v, ok := r.Fields[k]; ok {
			return v
		}
	}
	return nil
}
