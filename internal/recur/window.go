package recur

import (
	"fmt"
	"strings"
	"time"
)

// Granularity selects how a visible window is derived from a reference date.
type Granularity string

const (
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
)

// ParseGranularity accepts "day", "week" or "month" (case-insensitive).
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case Day, Week, Month:
		return g, nil
	case "":
		return Day, nil
	default:
		return "", fmt.Errorf("recur: unknown granularity %q", s)
	}
}

// Window is the visible time range. End is the last representable
// millisecond of the range (23:59:59.999), matching how calendar views
// address it; intersection tests still treat it as an exclusive bound.
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowFor derives the window for ref in ref's location:
//
//   - Day: midnight through 23:59:59.999 of ref's day.
//   - Week: the Sunday on or before ref through the following Saturday.
//   - Month: first through last calendar day of ref's month.
func WindowFor(ref time.Time, g Granularity) Window {
	loc := ref.Location()
	y, m, d := ref.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, loc)

	var start, next time.Time
	switch g {
	case Week:
		start = midnight.AddDate(0, 0, -int(midnight.Weekday()))
		next = start.AddDate(0, 0, 7)
	case Month:
		start = time.Date(y, m, 1, 0, 0, 0, 0, loc)
		next = start.AddDate(0, 1, 0)
	default:
		start = midnight
		next = midnight.AddDate(0, 0, 1)
	}
	return Window{Start: start, End: next.Add(-time.Millisecond)}
}

// Days returns the midnight of every calendar day the window touches.
func (w Window) Days() []time.Time {
	if w.End.Before(w.Start) {
		return nil
	}
	loc := w.Start.Location()
	y, m, d := w.Start.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, loc)

	days := make([]time.Time, 0, 7)
	for !day.After(w.End) {
		days = append(days, day)
		day = day.AddDate(0, 0, 1)
	}
	return days
}

// Key is a stable string for memoization.
func (w Window) Key() string {
	return w.Start.Format(time.RFC3339Nano) + "/" + w.End.Format(time.RFC3339Nano)
}

// Intersects reports whether [start, end) overlaps the window.
func (w Window) Intersects(start, end time.Time) bool {
	return start.Before(w.End) && end.After(w.Start)
}
