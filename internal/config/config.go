package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"s1panel/internal/model"
)

// Fixed panel geometry. The display protocol only knows this resolution.
const (
	CanvasWidth  = 320
	CanvasHeight = 170
)

// Defaults mirrored by Normalize.
const (
	DefaultListen           = "127.0.0.1:8686"
	DefaultPollMs           = 1000
	DefaultRotationMs       = 60000
	DefaultHeartbeat        = "@every 30s"
	DefaultLEDRefresh       = "@every 5s"
	DefaultVendorID         = 1241
	DefaultProductID        = 64769
	DefaultRegistryPath     = "/etc/s1panel/registry.yaml"
	DefaultLEDDevice        = "/dev/ttyUSB0"
	DefaultBootHoldMs       = 2000
	DefaultCalendarCacheDir = "/var/lib/s1panel/ics-cache"
)

// CanvasConfig is the framebuffer size.
type CanvasConfig struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// LEDConfig is the serial LED strip device and its default pattern.
type LEDConfig struct {
	Device    string `yaml:"device" json:"device"`
	Theme     int    `yaml:"theme" json:"theme"`
	Intensity int    `yaml:"intensity" json:"intensity"`
	Speed     int    `yaml:"speed" json:"speed"`
}

// Setting returns the LED pattern part of the config.
func (l LEDConfig) Setting() model.LEDSetting {
	return model.LEDSetting{Theme: l.Theme, Intensity: l.Intensity, Speed: l.Speed}
}

// BootConfig controls the one-shot startup sequence.
type BootConfig struct {
	// HoldMs is how long the splash stays up before the first live frame.
	HoldMs int              `yaml:"hold_ms" json:"hold_ms"`
	LED    model.LEDSetting `yaml:"led" json:"led"`
}

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	URL  string `yaml:"url" json:"url"`
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// CalendarConfig feeds the calendar sensor.
type CalendarConfig struct {
	// Timezone is an IANA name; empty means local time.
	Timezone string      `yaml:"timezone" json:"timezone"`
	CacheDir string      `yaml:"cache_dir" json:"cache_dir"`
	ICS      []ICSConfig `yaml:"ics" json:"ics"`
}

// BatteryConfig selects the I2C fuel gauge reported on /api/battery and
// shared with battery sensors.
type BatteryConfig struct {
	// Bus is a periph bus name; empty selects the first bus.
	Bus  string `yaml:"bus" json:"bus"`
	Addr uint16 `yaml:"addr" json:"addr"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status server.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the status server address. Empty disables the server.
	Listen   string `yaml:"listen" json:"listen"`
	LogLevel string `yaml:"log_level" json:"log_level"`
	LogJSON  bool   `yaml:"log_json" json:"log_json"`

	// Poll is the scheduler cadence in milliseconds.
	Poll int `yaml:"poll" json:"poll"`

	// RotationInterval is the default screen rotation interval in
	// milliseconds; a theme may override it.
	RotationInterval int `yaml:"rotation_interval" json:"rotation_interval"`

	// Heartbeat and LEDRefresh are cron specs (e.g. "@every 30s").
	Heartbeat  string `yaml:"heartbeat" json:"heartbeat"`
	LEDRefresh string `yaml:"led_refresh" json:"led_refresh"`

	Canvas CanvasConfig `yaml:"canvas" json:"canvas"`

	// Device is an optional HID path; when empty the display is opened by
	// VendorID/ProductID.
	Device    string `yaml:"device" json:"device"`
	VendorID  uint16 `yaml:"vendor_id" json:"vendor_id"`
	ProductID uint16 `yaml:"product_id" json:"product_id"`

	Registry string `yaml:"registry" json:"registry"`

	Boot BootConfig `yaml:"boot" json:"boot"`
	LED  LEDConfig  `yaml:"led_config" json:"led_config"`

	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`

	// StoragePath is the mount point reported by the space sensor.
	StoragePath string `yaml:"storage_path" json:"storage_path"`

	// Battery is optional; nil means no gauge is fitted.
	Battery *BatteryConfig `yaml:"battery,omitempty" json:"battery,omitempty"`

	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{
		Listen:   DefaultListen,
		LogLevel: "info",
		Boot: BootConfig{
			HoldMs: DefaultBootHoldMs,
			LED:    model.LEDSetting{Theme: 1, Intensity: 5, Speed: 5},
		},
		LED: LEDConfig{
			Device:    DefaultLEDDevice,
			Theme:     5,
			Intensity: 3,
			Speed:     3,
		},
	}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Poll <= 0 {
		c.Poll = DefaultPollMs
	}
	if c.RotationInterval <= 0 {
		c.RotationInterval = DefaultRotationMs
	}
	if c.Heartbeat == "" {
		c.Heartbeat = DefaultHeartbeat
	}
	if c.LEDRefresh == "" {
		c.LEDRefresh = DefaultLEDRefresh
	}
	// Only one panel geometry exists.
	if c.Canvas.Width != CanvasWidth || c.Canvas.Height != CanvasHeight {
		c.Canvas = CanvasConfig{Width: CanvasWidth, Height: CanvasHeight}
	}
	if c.VendorID == 0 {
		c.VendorID = DefaultVendorID
	}
	if c.ProductID == 0 {
		c.ProductID = DefaultProductID
	}
	if c.Registry == "" {
		c.Registry = DefaultRegistryPath
	}
	if c.Boot.HoldMs <= 0 {
		c.Boot.HoldMs = DefaultBootHoldMs
	}
	if c.Boot.LED.Theme == 0 {
		c.Boot.LED = model.LEDSetting{Theme: 1, Intensity: 5, Speed: 5}
	}
	if c.LED.Device == "" {
		c.LED.Device = DefaultLEDDevice
	}
	if c.LED.Theme == 0 {
		c.LED.Theme = 5
	}
	if c.LED.Intensity == 0 {
		c.LED.Intensity = 3
	}
	if c.LED.Speed == 0 {
		c.LED.Speed = 3
	}
	if c.Calendar.CacheDir == "" {
		c.Calendar.CacheDir = DefaultCalendarCacheDir
	}
	if c.Calendar.ICS == nil {
		c.Calendar.ICS = []ICSConfig{}
	}
	if c.StoragePath == "" {
		c.StoragePath = "/"
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (parent directory created as needed) and returned.
//   - Otherwise the YAML is unmarshaled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration atomically (temp file + rename) with
// 0600 permissions.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return writeAtomic(path, data, ".s1panel-config-*.tmp")
}

// Save is a convenience method delegating to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

func writeAtomic(path string, data []byte, pattern string) error {
	if path == "" {
		return errors.New("config path is empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
