package sensor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"s1panel/internal/battery"
	"s1panel/internal/model"
)

const defaultPowercapDir = "/sys/class/powercap"

// cpuPower derives package watts from RAPL energy counters.
type cpuPower struct {
	dir  string
	now  func() time.Time
	hist *history

	prev     map[string]uint64
	prevTime time.Time
}

func newCPUPower(node model.SensorNode, env Env) (Source, error) {
	dir := env.PowercapDir
	if dir == "" {
		dir = defaultPowercapDir
	}
	return &cpuPower{
		dir:  dir,
		now:  env.Now,
		hist: newHistory(intOption(node.Config, "max_points", 300)),
	}, nil
}

func (p *cpuPower) Sample(context.Context) (model.Reading, error) {
	cur, err := readEnergy(p.dir)
	if err != nil {
		return model.Reading{}, err
	}
	now := p.now()

	var watts float64
	if p.prev != nil {
		if dt := now.Sub(p.prevTime).Seconds(); dt > 0 {
			var uj uint64
			for zone, e := range cur {
				if before, ok := p.prev[zone]; ok && e >= before {
					uj += e - before
				}
			}
			watts = float64(uj) / 1e6 / dt
		}
	}
	p.prev, p.prevTime = cur, now

	w := int(watts)
	return model.Composite(map[string]any{
		"watts":   w,
		"history": p.hist.push(float64(w)),
		"min":     0,
		"max":     28,
	}), nil
}

// readEnergy returns energy_uj per top-level zone, e.g. intel-rapl:0.
// Subzones (intel-rapl:0:0) are already included in their parent.
func readEnergy(dir string) (map[string]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := map[string]uint64{}
	for _, e := range entries {
		name := e.Name()
		if strings.Count(name, ":") != 1 {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, name, "energy_uj"))
		if err != nil {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
		if err != nil {
			continue
		}
		out[name] = v
	}
	if len(out) == 0 {
		return nil, errors.New("cpu_power: no rapl zones under " + dir)
	}
	return out, nil
}

type batterySensor struct {
	r battery.Reader
}

func newBattery(node model.SensorNode, env Env) (Source, error) {
	r := env.Battery
	if r == nil {
		r = battery.NewI2CReader(stringOption(node.Config, "bus", ""), uint16(intOption(node.Config, "addr", battery.DefaultAddr)))
	}
	return &batterySensor{r: r}, nil
}

func (b *batterySensor) Sample(ctx context.Context) (model.Reading, error) {
	st, err := b.r.Read(ctx)
	if err != nil {
		return model.Reading{}, err
	}
	return model.Composite(map[string]any{
		"percent":    st.Percent,
		"voltage_mv": st.VoltageMv,
	}), nil
}
