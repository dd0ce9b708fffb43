package sensor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	appLog "s1panel/internal/log"
	"s1panel/internal/model"
)

type clock struct {
	now func() time.Time
}

func newClock(_ model.SensorNode, env Env) (Source, error) {
	return &clock{now: env.Now}, nil
}

func (c *clock) Sample(context.Context) (model.Reading, error) {
	now := c.now()
	h12 := now.Hour() % 12
	if h12 == 0 {
		h12 = 12
	}
	ampm := "am"
	if now.Hour() >= 12 {
		ampm = "pm"
	}
	return model.Composite(map[string]any{
		"time":    fmt.Sprintf("%d:%02d", now.Hour(), now.Minute()),
		"time12":  fmt.Sprintf("%d:%02d", h12, now.Minute()),
		"seconds": fmt.Sprintf("%02d", now.Second()),
		"ampm":    ampm,
	}), nil
}

type calendar struct {
	env Env
}

func newCalendar(_ model.SensorNode, env Env) (Source, error) {
	return &calendar{env: env}, nil
}

func (c *calendar) Sample(context.Context) (model.Reading, error) {
	now := c.env.Now()
	fields := map[string]any{
		"date":    fmt.Sprintf("%d/%d/%02d", now.Month(), now.Day(), now.Year()%100),
		"iso":     now.Format("2006-01-02"),
		"day":     strconv.Itoa(now.Day()),
		"ordinal": ordinal(now.Day()),
		"weekday": now.Weekday().String(),
		"month":   now.Month().String(),
		"year":    strconv.Itoa(now.Year()),
	}
	if c.env.Calendar != nil {
		next, ok, err := c.env.Calendar.Upcoming(now)
		switch {
		case err != nil:
			appLog.Warn("calendar lookup failed", "err", err)
		case ok:
			fields["next_event"] = formatEvent(next.Summary, next.Start, next.AllDay, now)
		}
	}
	return model.Composite(fields), nil
}

func formatEvent(summary string, start time.Time, allDay bool, now time.Time) string {
	if allDay {
		return summary
	}
	y1, m1, d1 := start.Date()
	y2, m2, d2 := now.In(start.Location()).Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		return start.Format("15:04") + " " + summary
	}
	return start.Format("Mon 15:04") + " " + summary
}

func ordinal(n int) string {
	if r := n % 100; r >= 11 && r <= 13 {
		return fmt.Sprintf("%dth", n)
	}
	switch n % 10 {
	case 1:
		return fmt.Sprintf("%dst", n)
	case 2:
		return fmt.Sprintf("%dnd", n)
	case 3:
		return fmt.Sprintf("%drd", n)
	default:
		return fmt.Sprintf("%dth", n)
	}
}
