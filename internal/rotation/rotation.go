// Package rotation tracks which screen of the active theme is on display and
// advances it on a timer.
package rotation

import (
	"time"

	"s1panel/internal/model"
)

// State is a copy of the machine's state for status reporting.
type State struct {
	ThemeID      string    `json:"theme_id"`
	Index        int       `json:"index"`
	LastRotation time.Time `json:"last_rotation"`
	Active       bool      `json:"active"`
}

// Step is the outcome of one Advance call.
type Step struct {
	// ScreenID is empty when there is no active theme or it has no screens.
	ScreenID string
	Index    int
	// ThemeChanged is true on the first cycle of a newly active theme.
	ThemeChanged bool
	// Rotated is true when the index advanced on this call.
	Rotated bool
}

// Machine is the rotation state machine. States are "no active theme" and
// "active(index)". It is driven by a single writer, once per cycle.
type Machine struct {
	defaultInterval time.Duration
	state           State
}

// New returns a machine whose rotation interval is defaultInterval unless
// the active theme sets its own.
func New(defaultInterval time.Duration) *Machine {
	return &Machine{defaultInterval: defaultInterval}
}

// State returns a snapshot of the current state.
func (m *Machine) State() State {
	return m.state
}

// Interval returns the effective rotation interval for theme.
func (m *Machine) Interval(theme *model.Theme) time.Duration {
	if theme != nil && theme.RotationInterval > 0 {
		return time.Duration(theme.RotationInterval) * time.Millisecond
	}
	return m.defaultInterval
}

// Advance runs one cycle of the machine at time now. It never fails: an
// absent theme yields an empty Step, an out-of-range index clamps to 0.
func (m *Machine) Advance(theme *model.Theme, now time.Time) Step {
	if theme == nil {
		m.state = State{}
		return Step{}
	}

	var step Step
	if !m.state.Active || m.state.ThemeID != theme.ID {
		m.state = State{ThemeID: theme.ID, Index: 0, LastRotation: now, Active: true}
		step.ThemeChanged = true
	}

	count := len(theme.ScreenIDs)
	if count == 0 {
		m.state.Index = 0
		return step
	}

	interval := m.Interval(theme)
	if interval > 0 && now.Sub(m.state.LastRotation) >= interval {
		m.state.Index = (m.state.Index + 1) % count
		m.state.LastRotation = now
		step.Rotated = true
	}

	// Screens may have been removed by a registry reload.
	if m.state.Index < 0 || m.state.Index >= count {
		m.state.Index = 0
	}

	step.Index = m.state.Index
	step.ScreenID = theme.ScreenIDs[m.state.Index]
	return step
}
