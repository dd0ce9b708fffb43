package lcd

import (
	"fmt"
	"sync"

	"github.com/sstallion/go-hid"
)

var hidInit = sync.OnceValue(hid.Init)

// OpenHID returns an Opener for the panel. A non-empty path selects a
// specific hidraw node; otherwise the first device matching vid:pid is used.
func OpenHID(vid, pid uint16, path string) Opener {
	return func() (Device, error) {
		if err := hidInit(); err != nil {
			return nil, fmt.Errorf("hid init: %w", err)
		}
		if path != "" {
			dev, err := hid.OpenPath(path)
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", path, err)
			}
			return dev, nil
		}
		dev, err := hid.OpenFirst(vid, pid)
		if err != nil {
			return nil, fmt.Errorf("no device %04x:%04x: %w", vid, pid, err)
		}
		return dev, nil
	}
}

// ShutdownHID releases the HID library. Call once on exit.
func ShutdownHID() {
	_ = hid.Exit()
}
