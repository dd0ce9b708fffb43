package sensor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"

	"s1panel/internal/model"
)

// gopsutil entry points, replaced in tests.
var (
	cpuPercent = func(ctx context.Context) ([]float64, error) {
		return cpu.PercentWithContext(ctx, 0, false)
	}
	temperatures = func(ctx context.Context) ([]host.TemperatureStat, error) {
		return host.SensorsTemperaturesWithContext(ctx)
	}
	virtualMemory = mem.VirtualMemoryWithContext
	diskUsage     = disk.UsageWithContext
	netCounters   = net.IOCountersWithContext
)

func round1(v float64) float64 { return math.Round(v*10) / 10 }

type cpuUsage struct{}

func newCPUUsage(model.SensorNode, Env) (Source, error) { return cpuUsage{}, nil }

func (cpuUsage) Sample(ctx context.Context) (model.Reading, error) {
	p, err := cpuPercent(ctx)
	if err != nil {
		return model.Reading{}, err
	}
	if len(p) == 0 {
		return model.Reading{}, errors.New("cpu: no samples")
	}
	return model.Scalar(round1(p[0])), nil
}

type cpuTemp struct {
	fahrenheit bool
	hist       *history
}

func newCPUTemp(node model.SensorNode, _ Env) (Source, error) {
	return &cpuTemp{
		fahrenheit: boolOption(node.Config, "fahrenheit"),
		hist:       newHistory(intOption(node.Config, "max_points", 300)),
	}, nil
}

// preferred sensor keys, checked in order before falling back to the first.
var cpuTempKeys = []string{"coretemp", "k10temp", "cpu_thermal", "cpu"}

func (c *cpuTemp) Sample(ctx context.Context) (model.Reading, error) {
	stats, err := temperatures(ctx)
	// gopsutil returns partial results alongside warnings.
	if len(stats) == 0 {
		if err == nil {
			err = errors.New("cpu_temp: no thermal sensors")
		}
		return model.Reading{}, err
	}

	t := stats[0].Temperature
pick:
	for _, key := range cpuTempKeys {
		for _, s := range stats {
			if strings.Contains(s.SensorKey, key) {
				t = s.Temperature
				break pick
			}
		}
	}

	unit, lo, hi := "C", 21.0, 105.0
	if c.fahrenheit {
		t = t*9/5 + 32
		unit, lo, hi = "F", 70, 230
	}
	temp := int(t)
	return model.Composite(map[string]any{
		"temp":    temp,
		"history": c.hist.push(float64(temp)),
		"min":     lo,
		"max":     hi,
		"unit":    unit,
	}), nil
}

type memory struct{}

func newMemory(model.SensorNode, Env) (Source, error) { return memory{}, nil }

func (memory) Sample(ctx context.Context) (model.Reading, error) {
	vm, err := virtualMemory(ctx)
	if err != nil {
		return model.Reading{}, err
	}
	return model.Composite(map[string]any{
		"used_percent": round1(vm.UsedPercent),
		"used":         vm.Used,
		"total":        vm.Total,
	}), nil
}

type space struct {
	mount string
}

func newSpace(node model.SensorNode, env Env) (Source, error) {
	def := env.StoragePath
	if def == "" {
		def = "/"
	}
	return &space{mount: stringOption(node.Config, "mount_point", def)}, nil
}

func (s *space) Sample(ctx context.Context) (model.Reading, error) {
	u, err := diskUsage(ctx, s.mount)
	if err != nil {
		return model.Reading{}, fmt.Errorf("space %s: %w", s.mount, err)
	}
	return model.Composite(map[string]any{
		"used_percent": round1(u.UsedPercent),
		"free":         u.Free,
		"total":        u.Total,
	}), nil
}

type network struct {
	iface  string
	now    func() time.Time
	rxHist *history
	txHist *history

	last     net.IOCountersStat
	lastTime time.Time
	primed   bool
}

func newNetwork(node model.SensorNode, env Env) (Source, error) {
	n := intOption(node.Config, "max_points", 300)
	return &network{
		iface:  stringOption(node.Config, "interface", ""),
		now:    env.Now,
		rxHist: newHistory(n),
		txHist: newHistory(n),
	}, nil
}

// Sample reports byte rates since the previous sample. An empty interface
// name sums every interface.
func (n *network) Sample(ctx context.Context) (model.Reading, error) {
	counters, err := netCounters(ctx, n.iface != "")
	if err != nil {
		return model.Reading{}, err
	}
	var cur *net.IOCountersStat
	for i := range counters {
		if n.iface == "" || counters[i].Name == n.iface {
			cur = &counters[i]
			break
		}
	}
	if cur == nil {
		return model.Reading{}, fmt.Errorf("network: interface %q not found", n.iface)
	}

	now := n.now()
	var rx, tx float64
	if n.primed {
		if dt := now.Sub(n.lastTime).Seconds(); dt > 0 {
			rx = rate(cur.BytesRecv, n.last.BytesRecv, dt)
			tx = rate(cur.BytesSent, n.last.BytesSent, dt)
		}
	}
	n.last, n.lastTime, n.primed = *cur, now, true

	return model.Composite(map[string]any{
		"rx":         rx,
		"tx":         tx,
		"rx_history": n.rxHist.push(rx),
		"tx_history": n.txHist.push(tx),
	}), nil
}

// rate treats a counter that went backwards (interface reset) as zero.
func rate(cur, prev uint64, seconds float64) float64 {
	if cur < prev {
		return 0
	}
	return float64(cur-prev) / seconds
}
