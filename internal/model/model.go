package model

import "time"

// Event is a persisted calendar event definition, possibly recurring.
type Event struct {
	ID         string
	Title      string
	CalendarID string

	// Start / End bound the defining instance. End is always after Start.
	Start time.Time
	End   time.Time

	AllDay bool

	// RecurrenceRule holds a single RRULE string (with or without the
	// "RRULE:" prefix). Empty for one-off events.
	RecurrenceRule string

	Guests   []string
	Color    string
	TimeZone string
}

// Duration returns End - Start.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Recurring reports whether the event carries a recurrence rule.
func (e Event) Recurring() bool {
	return e.RecurrenceRule != ""
}

// Occurrence is one concrete instance of an Event inside a visible window.
// Occurrences are derived on every expansion pass and never persisted.
type Occurrence struct {
	// ID is synthetic for recurring events (see recur.OccurrenceID) and equal
	// to the event ID for one-off events.
	ID      string
	EventID string

	Event Event

	Start time.Time
	End   time.Time

	// Virtual is true for every instance that is not the literal first
	// occurrence of its series.
	Virtual bool
}

// Duration returns End - Start.
func (o Occurrence) Duration() time.Duration {
	return o.End.Sub(o.Start)
}

// Overlaps reports whether [o.Start, o.End) intersects [start, end).
func (o Occurrence) Overlaps(start, end time.Time) bool {
	return o.Start.Before(end) && o.End.After(start)
}

// EventUpdate is the mutation handed to a persistence gateway when a drag
// session commits.
type EventUpdate struct {
	ID    string
	Start time.Time
	End   time.Time
}
