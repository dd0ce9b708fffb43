package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	appLog "s1panel/internal/log"
	"s1panel/internal/model"
)

const registryDebounce = 100 * time.Millisecond

// WatchRegistry watches the registry file and calls publish with every
// successfully reloaded snapshot. A file that fails to parse is logged and
// the previous snapshot stays in effect. It returns once ctx is canceled.
//
// The parent directory is watched rather than the file itself because
// editors and Save replace the file via rename.
func WatchRegistry(ctx context.Context, path string, publish func(*model.Registry)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: registry watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}
	appLog.Info("watching registry", "path", path)

	var (
		mu       sync.Mutex
		debounce *time.Timer
	)
	defer func() {
		mu.Lock()
		if debounce != nil {
			debounce.Stop()
		}
		mu.Unlock()
	}()

	reload := func() {
		reg, err := LoadRegistry(path)
		if err != nil {
			appLog.Error("registry reload failed; keeping previous", err, "path", path)
			return
		}
		appLog.Info("registry reloaded", "path", path, "active_theme", reg.ActiveThemeID)
		publish(reg)
	}

	base := filepath.Base(path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			mu.Lock()
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(registryDebounce, reload)
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			appLog.Error("registry watcher error", err)
		}
	}
}
