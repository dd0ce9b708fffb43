package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s1panel/internal/model"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultPollMs, cfg.Poll)
	assert.Equal(t, DefaultRotationMs, cfg.RotationInterval)
	assert.Equal(t, uint16(DefaultVendorID), cfg.VendorID)
	assert.Equal(t, uint16(DefaultProductID), cfg.ProductID)
	assert.Equal(t, model.LEDSetting{Theme: 5, Intensity: 3, Speed: 3}, cfg.LED.Setting())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := "poll: 250\ncanvas:\n  width: 640\n  height: 480\nled_config:\n  device: /dev/ttyACM0\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.Poll)
	assert.Equal(t, CanvasConfig{Width: CanvasWidth, Height: CanvasHeight}, cfg.Canvas)
	assert.Equal(t, "/dev/ttyACM0", cfg.LED.Device)
	assert.Equal(t, 3, cfg.LED.Intensity)
	assert.Equal(t, DefaultLEDRefresh, cfg.LEDRefresh)
	assert.Equal(t, "/", cfg.StoragePath)
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("poll: [\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestRegistryRoundTripResolvesKinds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")

	seeded, err := LoadRegistry(path)
	require.NoError(t, err)
	require.NotNil(t, seeded.ActiveTheme())

	loaded, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, seeded.ActiveThemeID, loaded.ActiveThemeID)
	assert.Equal(t, model.WidgetDoughnutChart, loaded.Widgets["w_cpu_ring"].Kind)
	assert.Equal(t, "w_cpu_ring", loaded.Widgets["w_cpu_ring"].ID)
	assert.Equal(t, []string{"sc_sys", "sc_net", "sc_clk"}, loaded.Themes["th_default"].ScreenIDs)
}

func TestParseRegistryUnknownWidgetType(t *testing.T) {
	reg, err := ParseRegistry([]byte("widgets:\n  w1:\n    type: hologram\n"))
	require.NoError(t, err)
	assert.Equal(t, model.WidgetUnknown, reg.Widgets["w1"].Kind)
	assert.NotNil(t, reg.Themes)
}

func TestWatchRegistryPublishesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	_, err := LoadRegistry(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *model.Registry, 4)
	done := make(chan error, 1)
	go func() { done <- WatchRegistry(ctx, path, func(r *model.Registry) { got <- r }) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	reg := DefaultRegistry()
	reg.ActiveThemeID = "th_other"
	reg.Themes["th_other"] = model.Theme{Name: "Other", ScreenIDs: []string{"sc_clk"}}
	require.NoError(t, SaveRegistry(path, reg))

	select {
	case r := <-got:
		assert.Equal(t, "th_other", r.ActiveThemeID)
	case <-time.After(3 * time.Second):
		t.Fatal("registry reload not published")
	}

	cancel()
	assert.NoError(t, <-done)
}
