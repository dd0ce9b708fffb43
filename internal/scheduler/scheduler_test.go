package scheduler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s1panel/internal/compose"
	"s1panel/internal/convert"
	"s1panel/internal/lcd"
	"s1panel/internal/led"
	"s1panel/internal/model"
	"s1panel/internal/rotation"
	"s1panel/internal/sensor"
	"s1panel/internal/widget"
)

// journal records device calls from both fakes in order.
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, fmt.Sprintf(format, args...))
}

func (j *journal) take() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := j.events
	j.events = nil
	return out
}

type fakeDisplay struct {
	j         *journal
	redrawErr error
	frames    [][]byte
}

func (d *fakeDisplay) Redraw(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.j.add("redraw")
	d.frames = append(d.frames, frame)
	return d.redrawErr
}

func (d *fakeDisplay) SetOrientation(portrait bool) error {
	d.j.add("orientation portrait=%v", portrait)
	return nil
}

func (d *fakeDisplay) Heartbeat(now time.Time) error {
	d.j.add("heartbeat")
	return nil
}

func (d *fakeDisplay) State() lcd.State { return lcd.StateOpen }

func (d *fakeDisplay) Close() error {
	d.j.add("display close")
	return nil
}

type fakeStrip struct {
	j   *journal
	err error
}

func (s *fakeStrip) Set(path string, l model.LEDSetting) error {
	s.j.add("led %d/%d/%d", l.Theme, l.Intensity, l.Speed)
	return s.err
}

func (s *fakeStrip) Close() error {
	s.j.add("led close")
	return nil
}

type fakeSampler func(ctx context.Context, nodes map[string]model.SensorNode) map[string]sensor.Outcome

func (f fakeSampler) SampleAll(ctx context.Context, nodes map[string]model.SensorNode) map[string]sensor.Outcome {
	return f(ctx, nodes)
}

type observed struct {
	leds   []bool
	cycles int
}

func (o *observed) LEDFrame(ok bool) {
	o.leds = append(o.leds, ok)
}

func (o *observed) Cycle(d time.Duration, index int) {
	o.cycles++
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

var defaultLED = model.LEDSetting{Theme: led.ThemeAuto, Intensity: 3, Speed: 3}

func testRegistry() *model.Registry {
	return &model.Registry{
		Sensors: map[string]model.SensorNode{
			"cpu": {Kind: "cpu_usage"},
			"mem": {Kind: "memory"},
		},
		Widgets: map[string]model.Widget{
			"w_cpu": {Kind: model.WidgetText, SensorID: "cpu", Rect: model.Rect{Width: 10, Height: 10}},
		},
		Screens: map[string]model.Screen{
			"main": {Background: "#000000", WidgetIDs: []string{"w_cpu"}},
			"alt":  {Background: "#000000", LED: &model.LEDSetting{Theme: led.ThemeBreathing, Intensity: 1, Speed: 2}},
		},
		Themes: map[string]model.Theme{
			"t": {ID: "t", RotationInterval: 2000, ScreenIDs: []string{"main", "alt"}},
		},
		ActiveThemeID: "t",
	}
}

func okSampler(ctx context.Context, nodes map[string]model.SensorNode) map[string]sensor.Outcome {
	out := make(map[string]sensor.Outcome, len(nodes))
	for id := range nodes {
		out[id] = sensor.Outcome{Reading: model.Scalar(50.0)}
	}
	return out
}

type harness struct {
	s       *Scheduler
	j       *journal
	display *fakeDisplay
	strip   *fakeStrip
	clock   *clock
	obs     *observed
}

func newHarness(t *testing.T, sampler fakeSampler) *harness {
	t.Helper()
	j := &journal{}
	h := &harness{
		j:       j,
		display: &fakeDisplay{j: j},
		strip:   &fakeStrip{j: j},
		clock:   &clock{t: time.Unix(1_000_000, 0)},
		obs:     &observed{},
	}
	paint := widget.RendererFunc(func(dst draw.Image, rect image.Rectangle, props map[string]any, v any) error {
		if v == nil {
			return widget.ErrValue
		}
		draw.Draw(dst, rect, image.White, image.Point{}, draw.Src)
		return nil
	})
	comp := compose.New(rotation.New(time.Minute), widget.Table{model.WidgetText: paint}, nil)
	reg := testRegistry()
	h.s = New(Options{
		Poll:       time.Millisecond,
		Heartbeat:  cron.Every(10 * time.Second),
		LEDRefresh: cron.Every(5 * time.Second),
		LEDDevice:  "/dev/null",
		LEDDefault: defaultLED,
		BootLED:    model.LEDSetting{Theme: led.ThemeRainbow, Intensity: 5, Speed: 5},
		Name:       "s1panel",
		Version:    "test",
		Now:        func() time.Time { return h.clock.now() },
	}, func() *model.Registry { return reg }, sampler, comp, h.display, h.strip, h.obs)
	return h
}

func TestCycleOrder(t *testing.T) {
	h := newHarness(t, okSampler)

	require.NoError(t, h.s.Cycle(context.Background()))
	assert.Equal(t, []string{
		"orientation portrait=false",
		"redraw",
		"heartbeat",
		"led 5/3/3",
	}, h.j.take())
	require.Len(t, h.display.frames, 1)
	assert.Len(t, h.display.frames[0], convert.LCDFrameSize)

	st := h.s.Status()
	assert.Equal(t, "t", st.ThemeID)
	assert.Equal(t, "main", st.ScreenID)
	assert.Equal(t, "open", st.Display)
	assert.EqualValues(t, 1, st.Cycles)
	require.NotNil(t, st.LED)
	assert.Equal(t, defaultLED, *st.LED)
	assert.Empty(t, st.Failures)
	require.NotNil(t, h.s.Preview())
	assert.Equal(t, 1, h.obs.cycles)
}

func TestLEDAndHeartbeatCadence(t *testing.T) {
	h := newHarness(t, okSampler)
	ctx := context.Background()
	require.NoError(t, h.s.Cycle(ctx))
	h.j.take()
	start := h.clock.now()
	assert.Equal(t, start, h.s.Status().LastRotation)

	h.clock.advance(time.Second)
	require.NoError(t, h.s.Cycle(ctx))
	assert.Equal(t, []string{"redraw"}, h.j.take(), "nothing else is due after 1s")
	assert.Equal(t, start, h.s.Status().LastRotation)

	// Screen "alt" becomes active at +2s and carries its own LED setting:
	// the refresh happens at once, not at the next 5s tick.
	h.clock.advance(time.Second)
	require.NoError(t, h.s.Cycle(ctx))
	assert.Equal(t, []string{"redraw", "led 2/1/2"}, h.j.take())
	assert.Equal(t, "alt", h.s.Status().ScreenID)
	assert.Equal(t, h.clock.now(), h.s.Status().LastRotation)

	h.clock.advance(time.Second)
	require.NoError(t, h.s.Cycle(ctx))
	assert.Equal(t, []string{"redraw"}, h.j.take())

	// +8s: rotated back to main, the default pattern is restored.
	h.clock.advance(5 * time.Second)
	require.NoError(t, h.s.Cycle(ctx))
	events := h.j.take()
	assert.Contains(t, events, "led 5/3/3")

	// +10s: heartbeat due.
	h.clock.advance(2 * time.Second)
	require.NoError(t, h.s.Cycle(ctx))
	assert.Contains(t, h.j.take(), "heartbeat")
}

func TestDisplayFailureDoesNotStopCycle(t *testing.T) {
	h := newHarness(t, okSampler)
	h.display.redrawErr = errors.New("lcd: chunk 3/27: broken pipe")

	require.NoError(t, h.s.Cycle(context.Background()))
	st := h.s.Status()
	assert.Contains(t, st.DisplayError, "chunk 3/27")
	assert.Contains(t, h.j.take(), "led 5/3/3", "LED refresh still runs")

	h.display.redrawErr = nil
	h.clock.advance(time.Second)
	require.NoError(t, h.s.Cycle(context.Background()))
	assert.Empty(t, h.s.Status().DisplayError)
}

func TestLEDFailureIsRecordedOnly(t *testing.T) {
	h := newHarness(t, okSampler)
	h.strip.err = errors.New("serial gone")

	require.NoError(t, h.s.Cycle(context.Background()))
	st := h.s.Status()
	assert.Equal(t, "serial gone", st.LEDError)
	assert.Nil(t, st.LED)
	assert.Equal(t, []bool{false}, h.obs.leds)
	h.j.take()

	// No retry before the refresh schedule.
	h.clock.advance(time.Second)
	require.NoError(t, h.s.Cycle(context.Background()))
	assert.NotContains(t, h.j.take(), "led 5/3/3")
}

func TestSensorFailureIsIsolated(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, nodes map[string]model.SensorNode) map[string]sensor.Outcome {
		return map[string]sensor.Outcome{
			"cpu": {Err: errors.New("no cpu")},
			"mem": {Reading: model.Scalar(1)},
		}
	})

	require.NoError(t, h.s.Cycle(context.Background()))
	st := h.s.Status()
	assert.Equal(t, map[string]string{"cpu": "no cpu"}, st.SensorErrors)
	require.Len(t, st.Failures, 1)
	assert.Equal(t, "w_cpu", st.Failures[0].WidgetID)
	assert.Len(t, h.display.frames, 1, "frame still transmitted")
}

func TestCyclePanicIsRecovered(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, nodes map[string]model.SensorNode) map[string]sensor.Outcome {
		panic("sampler bug")
	})
	err := h.s.Cycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sampler bug")

	// The lock was released.
	assert.NoError(t, h.s.Shutdown())
}

func TestCancelledContextStartsNoFrame(t *testing.T) {
	h := newHarness(t, okSampler)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, h.s.Cycle(ctx), context.Canceled)
	assert.Empty(t, h.display.frames)
}

func TestBoot(t *testing.T) {
	h := newHarness(t, okSampler)
	require.NoError(t, h.s.Boot(context.Background()))
	assert.Equal(t, []string{
		"led 1/5/5",
		"orientation portrait=false",
		"redraw",
	}, h.j.take())
	require.NotNil(t, h.s.Preview(), "splash is previewable")

	// The first live cycle re-sends orientation and restores the LED.
	require.NoError(t, h.s.Cycle(context.Background()))
	events := h.j.take()
	assert.Equal(t, "orientation portrait=false", events[0])
	assert.Contains(t, events, "led 5/3/3")
}

func TestBootHoldHonoursCancel(t *testing.T) {
	h := newHarness(t, okSampler)
	h.s.opts.BootHold = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	assert.ErrorIs(t, h.s.Boot(ctx), context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestShutdownOrder(t *testing.T) {
	h := newHarness(t, okSampler)
	require.NoError(t, h.s.Shutdown())
	assert.Equal(t, []string{"led 4/0/0", "led close", "display close"}, h.j.take())
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls int
	h := newHarness(t, func(c context.Context, nodes map[string]model.SensorNode) map[string]sensor.Outcome {
		calls++
		if calls == 3 {
			cancel()
		}
		return okSampler(c, nodes)
	})

	done := make(chan error, 1)
	go func() { done <- h.s.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 3, calls)
	assert.Len(t, h.display.frames, 2, "no frame is started after the stop request")
}

func TestParseCadence(t *testing.T) {
	s, err := ParseCadence("", "@every 5s")
	require.NoError(t, err)
	base := time.Unix(100, 0)
	assert.Equal(t, base.Add(5*time.Second), s.Next(base))

	_, err = ParseCadence("not a cron", "@every 5s")
	assert.Error(t, err)
}
