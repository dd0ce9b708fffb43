package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "s1panel/internal/log"
)

// Event is a VEVENT reduced to what the panel shows.
type Event struct {
	Source   Source
	UID      string
	Summary  string
	Location string

	Start  time.Time
	End    time.Time
	AllDay bool

	RRule      string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID of an overridden instance
}

// IsOverride reports whether e replaces one instance of a recurring event.
func (e Event) IsOverride() bool { return e.Recurrence != nil }

// Parse decodes one feed body. Broken VEVENTs are logged and skipped.
func Parse(src Source, body []byte) ([]Event, error) {
	if len(body) == 0 {
		return nil, errors.New("ics: empty body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		ev, err := parseEvent(src, ve)
		if err != nil {
			appLog.Warn("ics vevent skipped", "id", src.ID, "err", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseEvent(src Source, ve *ical.VEvent) (Event, error) {
	ev := Event{Source: src}

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return ev, errors.New("missing UID")
	}
	ev.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		ev.Location = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return ev, err
	}
	ev.Start = start
	if end, err := ve.GetEndAt(); err == nil {
		ev.End = end
	} else {
		ev.End = start
	}

	if dt := ve.GetProperty(ical.ComponentPropertyDtStart); dt != nil {
		if vs := dt.ICalParameters["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			ev.AllDay = true
		}
		if !strings.Contains(dt.Value, "T") {
			ev.AllDay = true
		}
	}
	if ev.AllDay && !ev.End.After(ev.Start) {
		ev.End = ev.Start.AddDate(0, 0, 1)
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		ev.RRule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseTime(part, ev.Start.Location()); err == nil {
				ev.ExDates = append(ev.ExDates, t)
			}
		}
	}
	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if t, err := parseTime(p.Value, ev.Start.Location()); err == nil {
			ev.Recurrence = &t
		}
	}
	return ev, nil
}

// parseTime handles the UTC, floating and date-only forms used by EXDATE and
// RECURRENCE-ID. Floating values are read in loc.
func parseTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
