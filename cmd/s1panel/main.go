package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"s1panel/internal/battery"
	"s1panel/internal/compose"
	"s1panel/internal/config"
	"s1panel/internal/ics"
	"s1panel/internal/lcd"
	"s1panel/internal/led"
	appLog "s1panel/internal/log"
	"s1panel/internal/metrics"
	"s1panel/internal/model"
	"s1panel/internal/rotation"
	"s1panel/internal/scheduler"
	"s1panel/internal/sensor"
	"s1panel/internal/web"
	"s1panel/internal/widget"
)

var version = "0.1.0-dev"

// flagConfig holds CLI flag values; set flags override the config file.
type flagConfig struct {
	configPath string
	listen     string
	logLevel   string
	once       bool
	noBoot     bool
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags flagConfig
	cmd := &cobra.Command{
		Use:           "s1panel",
		Short:         "Drive the 320x170 front panel display and LED strip",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := run(cmd.Context(), cmd.Flags(), flags)
			if err != nil {
				appLog.Error("s1panel failed", err)
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.configPath, "config", "/etc/s1panel/config.yaml", "Path to config file")
	f.StringVar(&flags.listen, "listen", "", "Status server listen address (overrides config if set)")
	f.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config if set)")
	f.BoolVar(&flags.once, "once", false, "Run one sample+compose+transmit cycle and exit")
	f.BoolVar(&flags.noBoot, "no-boot", false, "Skip the boot splash")
	return cmd
}

// applyFlags copies explicitly set flags onto cfg.
func applyFlags(fs *pflag.FlagSet, cfg *config.Config, flags flagConfig) {
	if fs.Changed("listen") {
		cfg.Listen = flags.listen
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
}

func run(parent context.Context, fs *pflag.FlagSet, flags flagConfig) error {
	conf, err := config.Load(flags.configPath)
	if err != nil {
		if conf == nil {
			return err
		}
		appLog.Warn("config not saved; continuing with defaults", "config_path", flags.configPath, "err", err)
	}
	applyFlags(fs, conf, flags)

	appLog.SetOutput(os.Stderr, conf.LogJSON)
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	appLog.Info("s1panel starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"poll_ms", conf.Poll,
		"rotation_ms", conf.RotationInterval,
		"heartbeat", conf.Heartbeat,
		"led_refresh", conf.LEDRefresh,
		"vendor_id", conf.VendorID,
		"product_id", conf.ProductID,
		"led_device", conf.LED.Device,
		"registry", conf.Registry,
		"ics_count", len(conf.Calendar.ICS),
		"once", flags.once,
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg, err := config.LoadRegistry(conf.Registry)
	if err != nil {
		if reg == nil {
			return err
		}
		appLog.Warn("registry not saved; using defaults", "registry", conf.Registry, "err", err)
	}
	pipeline := metrics.New()

	var gauge battery.Reader
	if conf.Battery != nil {
		gauge = battery.NewI2CReader(conf.Battery.Bus, conf.Battery.Addr)
	}
	feed := newFeed(conf.Calendar)

	hub := sensor.NewHub(sensor.Env{
		Calendar:    feed,
		StoragePath: conf.StoragePath,
		Battery:     gauge,
	}, pipeline)

	var current atomic.Pointer[model.Registry]
	publish := func(r *model.Registry) {
		current.Store(r)
		if ids := unknownSensors(r, hub.Kinds()); len(ids) > 0 {
			appLog.Warn("sensors with unregistered kinds will fail every cycle", "ids", strings.Join(ids, ","))
		}
	}
	publish(reg)
	if !flags.once {
		go func() {
			if err := config.WatchRegistry(ctx, conf.Registry, publish); err != nil {
				appLog.Warn("registry hot reload disabled", "err", err)
			}
		}()
		if feed != nil {
			go feed.Run(ctx)
		}
	}

	display := lcd.New(lcd.OpenHID(conf.VendorID, conf.ProductID, conf.Device), lcd.WithObserver(pipeline))
	defer lcd.ShutdownHID()
	if err := display.Open(); err != nil {
		appLog.Warn("display not available yet; will retry every cycle", "err", err)
	}
	strip := led.New(led.DialSerial)

	heartbeat, err := scheduler.ParseCadence(conf.Heartbeat, config.DefaultHeartbeat)
	if err != nil {
		return err
	}
	ledRefresh, err := scheduler.ParseCadence(conf.LEDRefresh, config.DefaultLEDRefresh)
	if err != nil {
		return err
	}

	comp := compose.New(rotation.New(ms(conf.RotationInterval)), widget.Builtins(), pipeline)
	sched := scheduler.New(scheduler.Options{
		Poll:       ms(conf.Poll),
		Heartbeat:  heartbeat,
		LEDRefresh: ledRefresh,
		LEDDevice:  conf.LED.Device,
		LEDDefault: conf.LED.Setting(),
		BootLED:    conf.Boot.LED,
		BootHold:   ms(conf.Boot.HoldMs),
		Name:       "s1panel",
		Version:    version,
	}, current.Load, hub, comp, display, strip, pipeline)

	if flags.once {
		if feed != nil {
			if err := feed.Refresh(ctx); err != nil {
				appLog.Warn("calendar refresh failed", "err", err)
			}
		}
		err := sched.Cycle(ctx)
		return errors.Join(err, sched.Close())
	}

	if conf.Listen != "" {
		opts := []web.Option{web.WithMetrics(pipeline.Handler())}
		if feed != nil {
			opts = append(opts, web.WithFeed(feed))
		}
		if gauge != nil {
			opts = append(opts, web.WithBattery(gauge))
		}
		srv := web.NewServer(conf, sched, opts...)
		go func() {
			if err := srv.Start(ctx); err != nil {
				appLog.Error("HTTP server failed", err)
			}
		}()
	}

	if !flags.noBoot {
		if err := sched.Boot(ctx); err != nil && ctx.Err() == nil {
			appLog.Warn("boot sequence failed", "err", err)
		}
	}

	if err := sched.Run(ctx); err != nil {
		appLog.Error("scheduler stopped", err)
	}

	if err := sched.Shutdown(); err != nil {
		appLog.Warn("shutdown incomplete", "err", err)
	}
	appLog.Info("s1panel exiting")
	return nil
}

// newFeed returns nil when no calendar source is configured.
func newFeed(cal config.CalendarConfig) *ics.Feed {
	sources := make([]ics.Source, 0, len(cal.ICS))
	for _, csrc := range cal.ICS {
		if csrc.URL == "" {
			continue
		}
		id := csrc.ID
		if id == "" {
			if csrc.Name != "" {
				id = csrc.Name
			} else {
				id = csrc.URL
			}
		}
		sources = append(sources, ics.Source{ID: id, URL: csrc.URL})
	}
	if len(sources) == 0 {
		return nil
	}
	return ics.NewFeed(ics.NewFetcher(cal.CacheDir, nil), sources, resolveLocationOrLocal(cal.Timezone), ics.DefaultRefresh)
}

// unknownSensors lists, in id order, the registry sensors whose kind has no
// registered factory.
func unknownSensors(reg *model.Registry, kinds []string) []string {
	known := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		known[k] = true
	}
	var ids []string
	for id, n := range reg.Sensors {
		if !known[n.Kind] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
