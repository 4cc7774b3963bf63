package mode

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
)

// icalFetchTimeout bounds the feed download. Booking feeds are small but
// the hosting side can be slow.
const icalFetchTimeout = 30 * time.Second

// fetchICal downloads and parses the iCal feed at url, returning the
// VEVENTs as [Event] values normalised to UTC, sorted by check-in.
//
// Events with a DTEND before their DTSTART are ignored with a warning, as
// are events missing either time.
func fetchICal(ctx context.Context, url string) ([]Event, error) {
	ctx, cancel := context.WithTimeout(ctx, icalFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("mode: build ical request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mode: fetch ical: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mode: fetch ical: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("mode: read ical body: %w", err)
	}
	return parseICal(string(body))
}

// parseICal parses iCal text into events. Split from fetchICal so tests
// can feed literal calendars.
func parseICal(data string) ([]Event, error) {
	cal, err := ics.ParseCalendar(strings.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("mode: parse ical: %w", err)
	}

	var events []Event
	for _, ve := range cal.Events() {
		start, err := ve.GetStartAt()
		if err != nil {
			slog.Warn("ical event missing DTSTART, skipping", "uid", ve.Id())
			continue
		}
		end, err := ve.GetEndAt()
		if err != nil {
			slog.Warn("ical event missing DTEND, skipping", "uid", ve.Id())
			continue
		}
		if end.Before(start) {
			slog.Warn("ical event ends before it starts, skipping",
				"uid", ve.Id(), "dtstart", start, "dtend", end)
			continue
		}

		ev := Event{
			Checkin:   start.UTC(),
			Checkout:  end.UTC(),
			SourceUID: ve.Id(),
		}
		if p := ve.GetProperty(ics.ComponentPropertySummary); p != nil {
			ev.Summary = p.Value
		}
		events = append(events, ev)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Checkin.Before(events[j].Checkin)
	})
	return events, nil
}
