// Package led drives the RGB strip's 5-byte serial protocol.
package led

import (
	"errors"
	"fmt"

	"s1panel/internal/model"
)

const (
	Signature = 0xFA
	FrameSize = 5
	BaudRate  = 115200
)

// Theme codes understood by the strip firmware.
const (
	ThemeRainbow   = 1
	ThemeBreathing = 2
	ThemeColors    = 3
	ThemeOff       = 4
	ThemeAuto      = 5
	// ThemeNone leaves the strip as it is; nothing is sent.
	ThemeNone = 6
)

var ErrTheme = errors.New("led: unknown theme")

// Fix maps the user scale (1 = low) onto the firmware scale (5 = low).
func Fix(n int) byte {
	return byte(min(5, max(6-n, 1)))
}

// Checksum is the low byte of the sum of the first four frame bytes.
func Checksum(b []byte) byte {
	var sum int
	for _, v := range b[:4] {
		sum += int(v)
	}
	return byte(sum & 0xFF)
}

// Frame encodes s. ok is false for ThemeNone, in which case there is
// nothing to send.
func Frame(s model.LEDSetting) (frame []byte, ok bool, err error) {
	var intensity, speed byte
	switch s.Theme {
	case ThemeNone:
		return nil, false, nil
	case ThemeOff:
		intensity, speed = 0x05, 0x05
	case ThemeRainbow, ThemeBreathing, ThemeColors, ThemeAuto:
		intensity, speed = Fix(s.Intensity), Fix(s.Speed)
	default:
		return nil, false, fmt.Errorf("%w: %d", ErrTheme, s.Theme)
	}
	frame = []byte{Signature, byte(s.Theme), intensity, speed, 0}
	frame[4] = Checksum(frame)
	return frame, true, nil
}

// Off is the setting sent on shutdown.
func Off() model.LEDSetting {
	return model.LEDSetting{Theme: ThemeOff}
}
