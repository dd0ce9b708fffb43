// Package scheduler runs the panel: boot splash, the sample/compose/encode/
// transmit loop, periodic LED and heartbeat updates, and shutdown.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"s1panel/internal/compose"
	"s1panel/internal/convert"
	"s1panel/internal/lcd"
	"s1panel/internal/led"
	appLog "s1panel/internal/log"
	"s1panel/internal/model"
	"s1panel/internal/sensor"
)

// Display is the subset of *lcd.Transport the loop drives.
type Display interface {
	Redraw(ctx context.Context, frame []byte) error
	SetOrientation(portrait bool) error
	Heartbeat(now time.Time) error
	State() lcd.State
	Close() error
}

// Strip is the subset of *led.Transport the loop drives.
type Strip interface {
	Set(path string, s model.LEDSetting) error
	Close() error
}

// Sampler produces one outcome per sensor node.
type Sampler interface {
	SampleAll(ctx context.Context, nodes map[string]model.SensorNode) map[string]sensor.Outcome
}

// Observer receives cycle and LED results. metrics.Pipeline implements it.
type Observer interface {
	LEDFrame(ok bool)
	Cycle(d time.Duration, index int)
}

// Options are the static knobs of a Scheduler.
type Options struct {
	Poll       time.Duration
	Heartbeat  cron.Schedule
	LEDRefresh cron.Schedule

	LEDDevice  string
	LEDDefault model.LEDSetting

	BootLED  model.LEDSetting
	BootHold time.Duration
	Name     string
	Version  string

	// Now defaults to time.Now.
	Now func() time.Time
}

// ParseCadence parses a cron expr ("@every 5s", "*/1 * * * *"), falling
// back to def when expr is empty.
func ParseCadence(expr, def string) (cron.Schedule, error) {
	if expr == "" {
		expr = def
	}
	s, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("scheduler: parse cadence %q: %w", expr, err)
	}
	return s, nil
}

// Status is a snapshot of the last completed cycle.
type Status struct {
	ThemeID       string                  `json:"theme_id"`
	ScreenID      string                  `json:"screen_id"`
	Index         int                     `json:"index"`
	Portrait      bool                    `json:"portrait"`
	Display       string                  `json:"display"`
	DisplayError  string                  `json:"display_error,omitempty"`
	LED           *model.LEDSetting       `json:"led,omitempty"`
	LEDError      string                  `json:"led_error,omitempty"`
	Cycles        uint64                  `json:"cycles"`
	LastCycle     time.Time               `json:"last_cycle"`
	LastDuration  time.Duration           `json:"last_duration_ns"`
	SensorErrors  map[string]string       `json:"sensor_errors,omitempty"`
	Failures      []compose.WidgetFailure `json:"widget_failures,omitempty"`
	NextHeartbeat time.Time               `json:"next_heartbeat"`
	NextLED       time.Time               `json:"next_led"`
	LastRotation  time.Time               `json:"last_rotation"`
}

// Scheduler is a single cooperative loop; cycles never overlap.
type Scheduler struct {
	opts     Options
	registry func() *model.Registry
	sensors  Sampler
	comp     *compose.Compositor
	display  Display
	strip    Strip
	obs      Observer

	// mu serializes cycles, boot and shutdown.
	mu                 sync.Mutex
	cycles             uint64
	nextHeartbeat      time.Time
	nextLED            time.Time
	ledWant            *model.LEDSetting
	ledSent            *model.LEDSetting
	ledErr             string
	orientationPending bool
	portrait           bool

	status  atomic.Pointer[Status]
	preview atomic.Pointer[image.RGBA]
}

// New wires a scheduler. registry is called once per cycle and must return
// the current snapshot (it may change between cycles on hot reload).
func New(opts Options, registry func() *model.Registry, sensors Sampler, comp *compose.Compositor, display Display, strip Strip, obs Observer) *Scheduler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Poll <= 0 {
		opts.Poll = time.Second
	}
	if opts.Heartbeat == nil {
		opts.Heartbeat = cron.Every(30 * time.Second)
	}
	if opts.LEDRefresh == nil {
		opts.LEDRefresh = cron.Every(5 * time.Second)
	}
	s := &Scheduler{
		opts:     opts,
		registry: registry,
		sensors:  sensors,
		comp:     comp,
		display:  display,
		strip:    strip,
		obs:      obs,
	}
	s.status.Store(&Status{Display: display.State().String()})
	return s
}

// Status returns the last published snapshot. Never nil.
func (s *Scheduler) Status() Status { return *s.status.Load() }

// Preview returns the last composed framebuffer, or nil before the first
// cycle. The image is never written to after publication.
func (s *Scheduler) Preview() *image.RGBA { return s.preview.Load() }

// Boot sets the attention LED pattern, shows the splash and holds it. Device
// failures are logged; only cancellation is returned.
func (s *Scheduler) Boot(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setLED(s.opts.BootLED)

	fb := image.NewRGBA(image.Rect(0, 0, compose.Width, compose.Height))
	compose.Splash(fb, s.opts.Name, s.opts.Version)
	s.preview.Store(fb)

	frame, err := convert.EncodeImage(fb)
	if err != nil {
		return fmt.Errorf("scheduler: encode splash: %w", err)
	}
	if err := s.display.SetOrientation(false); err != nil {
		appLog.Warn("boot orientation failed", "err", err)
	}
	if err := s.display.Redraw(ctx, frame); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		appLog.Warn("boot splash failed", "err", err)
	}

	// The splash is landscape; force the first theme's orientation out.
	s.orientationPending = true
	s.nextLED = time.Time{}

	if s.opts.BootHold <= 0 {
		return nil
	}
	t := time.NewTimer(s.opts.BootHold)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run loops until ctx is cancelled. Each cycle completes before the poll
// delay starts, so cycles never overlap.
func (s *Scheduler) Run(ctx context.Context) error {
	appLog.Info("scheduler started", "poll", s.opts.Poll.String())
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			appLog.Info("scheduler stopping")
			return nil
		case <-t.C:
		}
		if err := s.Cycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
			appLog.Error("cycle failed", err)
		}
		t.Reset(s.opts.Poll)
	}
}

// Cycle runs one sample, compose, encode, transmit pass, then the due
// heartbeat and LED updates. Display errors are logged and reflected in the
// status; they never end the loop.
func (s *Scheduler) Cycle(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("scheduler: cycle panicked: %v", p)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	start := s.opts.Now()
	reg := s.registry()
	if reg == nil {
		reg = &model.Registry{}
	}

	outcomes := s.sensors.SampleAll(ctx, reg.Sensors)
	readings := make(map[string]model.Reading, len(outcomes))
	var sensorErrs map[string]string
	for id, o := range outcomes {
		if o.Err != nil {
			if sensorErrs == nil {
				sensorErrs = make(map[string]string)
			}
			sensorErrs[id] = o.Err.Error()
			continue
		}
		readings[id] = o.Reading
	}

	fb := image.NewRGBA(image.Rect(0, 0, compose.Width, compose.Height))
	res := s.comp.Compose(fb, reg, readings, start)

	frame, err := convert.EncodeImage(fb)
	if err != nil {
		return fmt.Errorf("scheduler: encode: %w", err)
	}

	if res.ThemeChanged || s.orientationPending || res.Portrait != s.portrait {
		if err := s.display.SetOrientation(res.Portrait); err != nil {
			appLog.Warn("set orientation failed", "portrait", res.Portrait, "err", err)
			s.orientationPending = true
		} else {
			s.orientationPending = false
			s.portrait = res.Portrait
		}
	}

	var displayErr string
	if err := s.display.Redraw(ctx, frame); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		displayErr = err.Error()
		appLog.Warn("frame transmit failed", "screen", res.ScreenID, "err", err)
	}

	now := s.opts.Now()
	if !now.Before(s.nextHeartbeat) {
		if err := s.display.Heartbeat(now); err != nil {
			appLog.Warn("heartbeat failed", "err", err)
		}
		s.nextHeartbeat = s.opts.Heartbeat.Next(now)
	}

	want := s.opts.LEDDefault
	if res.LED != nil {
		want = *res.LED
	}
	if s.ledWant == nil || *s.ledWant != want || !now.Before(s.nextLED) {
		s.setLED(want)
		s.nextLED = s.opts.LEDRefresh.Next(now)
	}

	s.cycles++
	dur := s.opts.Now().Sub(start)
	if s.obs != nil {
		s.obs.Cycle(dur, res.Index)
	}
	s.preview.Store(fb)
	st := &Status{
		ThemeID:       res.ThemeID,
		ScreenID:      res.ScreenID,
		Index:         res.Index,
		Portrait:      res.Portrait,
		Display:       s.display.State().String(),
		DisplayError:  displayErr,
		LEDError:      s.ledErr,
		Cycles:        s.cycles,
		LastCycle:     start,
		LastDuration:  dur,
		SensorErrors:  sensorErrs,
		Failures:      res.Failures,
		NextHeartbeat: s.nextHeartbeat,
		NextLED:       s.nextLED,
		LastRotation:  s.comp.Rotation().State().LastRotation,
	}
	if s.ledSent != nil {
		l := *s.ledSent
		st.LED = &l
	}
	s.status.Store(st)
	return nil
}

// setLED sends one pattern. Failures are logged and recorded, never
// returned; the next attempt waits for the refresh schedule. Callers hold
// s.mu.
func (s *Scheduler) setLED(want model.LEDSetting) {
	w := want
	s.ledWant = &w
	err := s.strip.Set(s.opts.LEDDevice, want)
	if s.obs != nil {
		s.obs.LEDFrame(err == nil)
	}
	if err != nil {
		appLog.Warn("led update failed", "device", s.opts.LEDDevice, "theme", want.Theme, "err", err)
		s.ledErr = err.Error()
		return
	}
	s.ledErr = ""
	sent := want
	s.ledSent = &sent
}

// Shutdown turns the strip off and releases both devices, best-effort.
func (s *Scheduler) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if err := s.strip.Set(s.opts.LEDDevice, led.Off()); err != nil {
		errs = append(errs, fmt.Errorf("led off: %w", err))
	}
	if err := s.strip.Close(); err != nil {
		errs = append(errs, fmt.Errorf("led close: %w", err))
	}
	if err := s.display.Close(); err != nil {
		errs = append(errs, fmt.Errorf("display close: %w", err))
	}
	return errors.Join(errs...)
}

// Close releases both devices without touching the LED pattern. Used after
// a one-shot cycle.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.strip.Close(), s.display.Close())
}
