package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const sample = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//calgrid//test//EN
BEGIN:VEVENT
UID:standup@example.com
SEQUENCE:1
SUMMARY:Standup
DTSTART;TZID=America/New_York:20260302T090000
DTEND;TZID=America/New_York:20260302T091500
RRULE:FREQ=WEEKLY;BYDAY=MO,WE,FR
EXDATE;TZID=America/New_York:20260304T090000,20260306T090000
ATTENDEE;CN=Ana:mailto:ana@example.com
ATTENDEE:mailto:bo@example.com
COLOR:teal
END:VEVENT
BEGIN:VEVENT
UID:standup@example.com
SEQUENCE:0
SUMMARY:Old standup
DTSTART:20260302T140000Z
DTEND:20260302T141500Z
END:VEVENT
BEGIN:VEVENT
UID:standup@example.com
RECURRENCE-ID;TZID=America/New_York:20260309T090000
SUMMARY:Moved standup
DTSTART;TZID=America/New_York:20260309T100000
DTEND;TZID=America/New_York:20260309T101500
END:VEVENT
BEGIN:VEVENT
UID:offsite@example.com
SUMMARY:Offsite
DTSTART;VALUE=DATE:20260306
END:VEVENT
BEGIN:VEVENT
UID:broken@example.com
SUMMARY:Inverted
DTSTART:20260302T100000Z
DTEND:20260302T090000Z
END:VEVENT
END:VCALENDAR
`

func TestParse(t *testing.T) {
	t.Parallel()

	if _, err := time.LoadLocation("America/New_York"); err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	imp, err := Parse(Source{ID: "work"}, []byte(strings.ReplaceAll(sample, "\n", "\r\n")), time.UTC)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(imp.Events) != 2 {
		t.Fatalf("expected standup and offsite, got %+v", imp.Events)
	}
	if imp.Overrides != 1 || imp.ExDates != 2 || len(imp.Rejected) != 1 {
		t.Fatalf("overrides=%d exdates=%d rejected=%d", imp.Overrides, imp.ExDates, len(imp.Rejected))
	}

	su := imp.Events[0]
	if su.ID != "standup@example.com" || su.Title != "Standup" || su.CalendarID != "work" {
		t.Fatalf("higher SEQUENCE should win: %+v", su)
	}
	if su.TimeZone != "America/New_York" || su.Start.Hour() != 9 || su.End.Sub(su.Start) != 15*time.Minute {
		t.Fatalf("unexpected standup times: %v - %v (%s)", su.Start, su.End, su.TimeZone)
	}
	if su.RecurrenceRule != "RRULE:FREQ=WEEKLY;BYDAY=MO,WE,FR" {
		t.Fatalf("rule = %q", su.RecurrenceRule)
	}
	if len(su.Guests) != 2 || su.Guests[0] != "ana@example.com" || su.Color != "teal" {
		t.Fatalf("guests=%v color=%q", su.Guests, su.Color)
	}

	off := imp.Events[1]
	if !off.AllDay || !off.Start.Equal(time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)) || off.End.Sub(off.Start) != 24*time.Hour {
		t.Fatalf("all-day without DTEND should span one day: %+v", off)
	}
}

func TestParse_Empty(t *testing.T) {
	t.Parallel()

	if _, err := Parse(Source{ID: "x"}, nil, nil); err == nil {
		t.Fatalf("expected error for empty body")
	}
}

func TestFetcher_LocalFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cal.ics")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}
	res, err := NewFetcher("").Fetch(context.Background(), Source{ID: "f", URL: path})
	if err != nil || string(res.Body) != sample || res.FromCache {
		t.Fatalf("Fetch() = %v, %v", res.FromCache, err)
	}
}

func TestFetcher_RevalidatesWithETag(t *testing.T) {
	t.Parallel()

	var hits, notModified atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(sample))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	src := Source{ID: "remote", URL: srv.URL + "/private/token.ics"}

	first, err := f.Fetch(context.Background(), src)
	if err != nil || first.FromCache {
		t.Fatalf("first fetch: cache=%v err=%v", first.FromCache, err)
	}
	second, err := f.Fetch(context.Background(), src)
	if err != nil || !second.FromCache || string(second.Body) != sample {
		t.Fatalf("second fetch should revalidate to cache: cache=%v err=%v", second.FromCache, err)
	}
	if hits.Load() != 2 || notModified.Load() != 1 {
		t.Fatalf("hits=%d notModified=%d", hits.Load(), notModified.Load())
	}
}

func TestRedactURL(t *testing.T) {
	t.Parallel()

	if got := redactURL("https://cal.example.com/private/abc.ics?token=1"); got != "https://cal.example.com/...(redacted)" {
		t.Fatalf("redactURL() = %q", got)
	}
	if got := redactURL("/tmp/cal.ics"); got != "file" {
		t.Fatalf("redactURL(path) = %q", got)
	}
}
