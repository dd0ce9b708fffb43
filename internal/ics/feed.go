package ics

import (
	"context"
	"errors"
	"sync"
	"time"

	appLog "s1panel/internal/log"
)

// DefaultRefresh is how often feeds are re-downloaded.
const DefaultRefresh = 15 * time.Minute

// Feed holds the parsed events of a set of sources. Run downloads them in
// the background once per refresh period; readers only expand what is
// already cached and never touch the network.
type Feed struct {
	fetcher *Fetcher
	sources []Source
	loc     *time.Location
	refresh time.Duration

	mu      sync.RWMutex
	events  []Event
	fetched time.Time
}

func NewFeed(f *Fetcher, sources []Source, loc *time.Location, refresh time.Duration) *Feed {
	if loc == nil {
		loc = time.Local
	}
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	return &Feed{fetcher: f, sources: sources, loc: loc, refresh: refresh}
}

// Run refreshes at once and then every refresh period until ctx is done.
func (f *Feed) Run(ctx context.Context) {
	t := time.NewTicker(f.refresh)
	defer t.Stop()
	for {
		if err := f.Refresh(ctx); err != nil && ctx.Err() == nil {
			appLog.Warn("calendar refresh failed; keeping previous events", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Refresh downloads every source and swaps in the parsed events. The lock
// is only taken for the swap. When every source fails the previous events
// are kept and the joined errors are returned.
func (f *Feed) Refresh(ctx context.Context) error {
	if len(f.sources) == 0 {
		return nil
	}
	results, errs := f.fetcher.FetchAll(ctx, f.sources)
	var events []Event
	for _, r := range results {
		evs, err := Parse(r.Source, r.Body)
		if err != nil {
			appLog.Error("ics parse failed", err, "id", r.Source.ID)
			continue
		}
		events = append(events, evs...)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(results) == 0 {
		return errors.Join(errs...)
	}
	f.events = events
	f.fetched = time.Now()
	appLog.Debug("calendar refreshed", "sources", len(results), "events", len(events))
	return nil
}

// Upcoming returns the next cached event that has not ended at now, looking
// up to a week ahead.
func (f *Feed) Upcoming(now time.Time) (Occurrence, bool, error) {
	occ, err := f.Between(now, now.AddDate(0, 0, 7))
	if err != nil {
		return Occurrence{}, false, err
	}
	o, ok := Next(occ, now)
	return o, ok, nil
}

// Between expands the cached events over [from, to).
func (f *Feed) Between(from, to time.Time) ([]Occurrence, error) {
	f.mu.RLock()
	events := f.events
	f.mu.RUnlock()
	return Expand(events, Window{Start: from, End: to, Location: f.loc})
}

// Fetched is the time of the last successful refresh, zero before it.
func (f *Feed) Fetched() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.fetched
}

// Location is the display time zone of the feed.
func (f *Feed) Location() *time.Location { return f.loc }
