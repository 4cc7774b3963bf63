package mode

import (
	"testing"
	"time"
)

const sampleCalendar = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Booking//EN
BEGIN:VEVENT
UID:stay-2@booking
DTSTART:20260820T150000Z
DTEND:20260824T110000Z
SUMMARY:Reserved
END:VEVENT
BEGIN:VEVENT
UID:stay-1@booking
DTSTART:20260810T150000Z
DTEND:20260814T110000Z
SUMMARY:Guest stay
END:VEVENT
END:VCALENDAR
`

func TestParseICal(t *testing.T) {
	events, err := parseICal(sampleCalendar)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}

	// Sorted by check-in.
	if events[0].SourceUID != "stay-1@booking" {
		t.Errorf("first event = %q, want stay-1@booking", events[0].SourceUID)
	}
	want := time.Date(2026, 8, 10, 15, 0, 0, 0, time.UTC)
	if !events[0].Checkin.Equal(want) {
		t.Errorf("checkin = %v, want %v", events[0].Checkin, want)
	}
	if events[0].Summary != "Guest stay" {
		t.Errorf("summary = %q", events[0].Summary)
	}
}

func TestParseICal_SkipsBrokenEvents(t *testing.T) {
	const calendar = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Booking//EN
BEGIN:VEVENT
UID:backwards@booking
DTSTART:20260814T110000Z
DTEND:20260810T150000Z
END:VEVENT
BEGIN:VEVENT
UID:no-end@booking
DTSTART:20260810T150000Z
END:VEVENT
BEGIN:VEVENT
UID:good@booking
DTSTART:20260810T150000Z
DTEND:20260814T110000Z
END:VEVENT
END:VCALENDAR
`
	events, err := parseICal(calendar)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].SourceUID != "good@booking" {
		t.Fatalf("events = %+v, want only good@booking", events)
	}
}

func TestParseICal_Malformed(t *testing.T) {
	if _, err := parseICal("not a calendar"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestHashEvents_StableAndContentSensitive(t *testing.T) {
	a := hashEvents(stay())
	if a != hashEvents(stay()) {
		t.Error("hash not stable for identical events")
	}

	moved := stay()
	moved[0].Checkin = moved[0].Checkin.Add(time.Hour)
	if a == hashEvents(moved) {
		t.Error("hash unchanged after event moved")
	}
}
