// Package sensor produces readings on demand for the compositor.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"s1panel/internal/battery"
	"s1panel/internal/ics"
	appLog "s1panel/internal/log"
	"s1panel/internal/model"
)

var ErrUnknownKind = errors.New("sensor: unknown kind")

// Source samples one sensor. Implementations may keep history between
// calls; the hub keeps one instance per configured sensor.
type Source interface {
	Sample(ctx context.Context) (model.Reading, error)
}

// Env carries what built-in sensors need from the rest of the service.
type Env struct {
	Now         func() time.Time
	Calendar    *ics.Feed
	StoragePath string
	Battery     battery.Reader
	PowercapDir string
}

// Factory builds a Source for a configured node.
type Factory func(node model.SensorNode, env Env) (Source, error)

// Outcome is the per-sensor result of one cycle.
type Outcome struct {
	Reading model.Reading
	Err     error
}

// Observer is told about failed samples. metrics.Pipeline implements it.
type Observer interface {
	SensorFailed(kind string)
}

type entry struct {
	node model.SensorNode
	src  Source
}

// Hub owns sensor instances and samples them once per cycle.
type Hub struct {
	env       Env
	factories map[string]Factory
	obs       Observer

	mu      sync.Mutex
	entries map[string]*entry
}

// NewHub returns a hub with every built-in kind registered.
func NewHub(env Env, obs Observer) *Hub {
	if env.Now == nil {
		env.Now = time.Now
	}
	h := &Hub{env: env, obs: obs, factories: map[string]Factory{}, entries: map[string]*entry{}}
	for kind, f := range builtins {
		h.Register(kind, f)
	}
	return h
}

// Register adds or replaces the factory for kind.
func (h *Hub) Register(kind string, f Factory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.factories[kind] = f
}

// Kinds lists registered kinds in name order.
func (h *Hub) Kinds() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.factories))
	for k := range h.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SampleAll samples every node sequentially. A failing or panicking sensor
// only affects its own outcome. Instances of nodes that disappeared from the
// registry are dropped.
func (h *Hub) SampleAll(ctx context.Context, nodes map[string]model.SensorNode) map[string]Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id := range h.entries {
		if _, ok := nodes[id]; !ok {
			delete(h.entries, id)
		}
	}

	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make(map[string]Outcome, len(nodes))
	for _, id := range ids {
		node := nodes[id]
		r, err := h.sample(ctx, id, node)
		if err != nil {
			appLog.Debug("sensor sample failed", "sensor", id, "kind", node.Kind, "err", err)
			if h.obs != nil {
				h.obs.SensorFailed(node.Kind)
			}
		}
		out[id] = Outcome{Reading: r, Err: err}
	}
	return out
}

func (h *Hub) sample(ctx context.Context, id string, node model.SensorNode) (r model.Reading, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sensor %s panicked: %v", id, p)
			appLog.Warn("sensor panic", "sensor", id, "stack", string(debug.Stack()))
		}
	}()

	e, err := h.instance(id, node)
	if err != nil {
		return model.Reading{}, err
	}
	return e.src.Sample(ctx)
}

func (h *Hub) instance(id string, node model.SensorNode) (*entry, error) {
	if e, ok := h.entries[id]; ok && e.node.Kind == node.Kind && reflect.DeepEqual(e.node.Config, node.Config) {
		return e, nil
	}
	f, ok := h.factories[node.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, node.Kind)
	}
	src, err := f(node, h.env)
	if err != nil {
		return nil, err
	}
	e := &entry{node: node, src: src}
	h.entries[id] = e
	return e, nil
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (model.Reading, error)

func (f SourceFunc) Sample(ctx context.Context) (model.Reading, error) { return f(ctx) }

var builtins = map[string]Factory{
	"clock":     newClock,
	"calendar":  newCalendar,
	"cpu_usage": newCPUUsage,
	"cpu_temp":  newCPUTemp,
	"cpu_power": newCPUPower,
	"memory":    newMemory,
	"space":     newSpace,
	"network":   newNetwork,
	"battery":   newBattery,
}

// config helpers; node configs come from YAML so numbers may be int or float.

func intOption(cfg map[string]any, key string, def int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

func stringOption(cfg map[string]any, key, def string) string {
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return def
}

func boolOption(cfg map[string]any, key string) bool {
	v, _ := cfg[key].(bool)
	return v
}

// history is a fixed-length series, oldest first.
type history struct {
	points []float64
}

func newHistory(n int) *history {
	if n <= 0 {
		n = 300
	}
	return &history{points: make([]float64, n)}
}

func (h *history) push(v float64) []float64 {
	copy(h.points, h.points[1:])
	h.points[len(h.points)-1] = v
	return append([]float64(nil), h.points...)
}
