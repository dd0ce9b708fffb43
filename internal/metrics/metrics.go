// Package metrics instruments the render pipeline for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "s1panel"

// Pipeline holds every collector. It satisfies the observer interfaces of
// lcd, sensor and compose. A nil *Pipeline is a valid no-op.
type Pipeline struct {
	registry *prometheus.Registry

	framesSent     prometheus.Counter
	frameDuration  prometheus.Histogram
	chunkFailures  prometheus.Counter
	recoveries     *prometheus.CounterVec
	sensorFailures *prometheus.CounterVec
	widgetFailures *prometheus.CounterVec
	ledFrames      *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	rotationIndex  prometheus.Gauge
}

// New builds a Pipeline on its own registry, plus Go runtime collectors.
func New() *Pipeline {
	m := &Pipeline{
		registry: prometheus.NewRegistry(),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames fully transmitted to the display.",
		}),
		frameDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_transmit_seconds",
			Help:      "Time to transmit one frame, pacing included.",
			Buckets:   []float64{.1, .15, .2, .3, .5, 1, 2},
		}),
		chunkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_write_failures_total",
			Help:      "Chunk writes that aborted a frame.",
		}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "display_recoveries_total",
			Help:      "Display close/reopen attempts by result.",
		}, []string{"result"}),
		sensorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_failures_total",
			Help:      "Failed sensor samples by sensor kind.",
		}, []string{"kind"}),
		widgetFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "widget_failures_total",
			Help:      "Widgets left unpainted by widget kind.",
		}, []string{"kind"}),
		ledFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "led_frames_total",
			Help:      "LED frames by result.",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_seconds",
			Help:      "Duration of one scheduler cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		rotationIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rotation_index",
			Help:      "Index of the screen on display within the active theme.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.framesSent,
		m.frameDuration,
		m.chunkFailures,
		m.recoveries,
		m.sensorFailures,
		m.widgetFailures,
		m.ledFrames,
		m.cycleDuration,
		m.rotationIndex,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Pipeline) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Pipeline) Registry() *prometheus.Registry { return m.registry }

func (m *Pipeline) FrameSent(d time.Duration) {
	if m == nil {
		return
	}
	m.framesSent.Inc()
	m.frameDuration.Observe(d.Seconds())
}

func (m *Pipeline) ChunkFailed() {
	if m == nil {
		return
	}
	m.chunkFailures.Inc()
}

func (m *Pipeline) Recovered(ok bool) {
	if m == nil {
		return
	}
	m.recoveries.WithLabelValues(result(ok)).Inc()
}

func (m *Pipeline) SensorFailed(kind string) {
	if m == nil {
		return
	}
	m.sensorFailures.WithLabelValues(kind).Inc()
}

func (m *Pipeline) WidgetFailed(kind string) {
	if m == nil {
		return
	}
	m.widgetFailures.WithLabelValues(kind).Inc()
}

func (m *Pipeline) LEDFrame(ok bool) {
	if m == nil {
		return
	}
	m.ledFrames.WithLabelValues(result(ok)).Inc()
}

func (m *Pipeline) Cycle(d time.Duration, index int) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(d.Seconds())
	m.rotationIndex.Set(float64(index))
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
