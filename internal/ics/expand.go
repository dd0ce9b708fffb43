package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "s1panel/internal/log"
)

const defaultMaxPerEvent = 500

// Occurrence is one concrete instance of an event, in the display zone.
type Occurrence struct {
	SourceID string
	UID      string
	Summary  string
	Location string
	AllDay   bool
	Start    time.Time
	End      time.Time
}

// Window bounds an expansion.
type Window struct {
	Start    time.Time
	End      time.Time
	Location *time.Location
	// MaxPerEvent caps instances of a single recurring event.
	MaxPerEvent int
}

// Expand turns events into occurrences overlapping w, sorted by start.
// RRULE, EXDATE and RECURRENCE-ID overrides are honoured.
func Expand(events []Event, w Window) ([]Occurrence, error) {
	if w.End.Before(w.Start) {
		return nil, errors.New("ics: window end before start")
	}
	if w.Location == nil {
		w.Location = time.Local
	}
	if w.MaxPerEvent <= 0 {
		w.MaxPerEvent = defaultMaxPerEvent
	}

	base := make(map[string][]Event)
	overrides := make(map[string][]Event)
	for _, ev := range events {
		if ev.IsOverride() {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
		} else {
			base[ev.UID] = append(base[ev.UID], ev)
		}
	}

	var out []Occurrence
	for uid, evs := range base {
		for _, ev := range evs {
			if ev.RRule == "" {
				out = appendSingle(out, ev, overrides[uid], w)
				continue
			}
			out = appendRecurring(out, ev, overrides[uid], w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].UID < out[j].UID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

func appendSingle(out []Occurrence, ev Event, ov []Event, w Window) []Occurrence {
	if !overlaps(ev.Start, ev.End, w.Start, w.End) {
		return out
	}
	if o, ok := findOverride(ov, ev.Start); ok {
		ev = o
	}
	return append(out, occurrence(ev, ev.Start, ev.End, w.Location))
}

func appendRecurring(out []Occurrence, ev Event, ov []Event, w Window) []Occurrence {
	r, err := rrule.StrToRRule(ev.RRule)
	if err != nil {
		appLog.Warn("ics rrule rejected", "uid", ev.UID, "rrule", ev.RRule, "err", err)
		return out
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	// Widen the lower bound so instances already running at w.Start count.
	from := w.Start.Add(-dur).In(ev.Start.Location())
	to := w.End.In(ev.Start.Location())
	starts := set.Between(from, to, true)
	if len(starts) > w.MaxPerEvent {
		appLog.Warn("ics occurrences truncated", "uid", ev.UID, "cap", w.MaxPerEvent)
		starts = starts[:w.MaxPerEvent]
	}

	for _, s := range starts {
		inst := ev
		start, end := s, s.Add(dur)
		if o, ok := findOverride(ov, s); ok {
			inst, start, end = o, o.Start, o.End
		}
		if !overlaps(start, end, w.Start, w.End) {
			continue
		}
		out = append(out, occurrence(inst, start, end, w.Location))
	}
	return out
}

func findOverride(ov []Event, start time.Time) (Event, bool) {
	for _, o := range ov {
		if o.Recurrence != nil && o.Recurrence.Equal(start) {
			return o, true
		}
	}
	return Event{}, false
}

func occurrence(ev Event, start, end time.Time, loc *time.Location) Occurrence {
	return Occurrence{
		SourceID: ev.Source.ID,
		UID:      ev.UID,
		Summary:  ev.Summary,
		Location: ev.Location,
		AllDay:   ev.AllDay,
		Start:    start.In(loc),
		End:      end.In(loc),
	}
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}

// Next returns the first occurrence that has not ended at now, preferring
// timed events over all-day ones that started earlier.
func Next(occ []Occurrence, now time.Time) (Occurrence, bool) {
	var best Occurrence
	found := false
	for _, o := range occ {
		if !o.End.After(now) {
			continue
		}
		if !found || o.Start.Before(best.Start) {
			best, found = o, true
		}
	}
	return best, found
}
