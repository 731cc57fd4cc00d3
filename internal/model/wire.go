package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// WireEvent is the JSON storage/transport shape of an Event.
type WireEvent struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Start      string   `json:"start"`
	End        string   `json:"end"`
	AllDay     bool     `json:"isAllDay,omitempty"`
	CalendarID string   `json:"calendarId"`
	Recurrence []string `json:"recurrence,omitempty"`
	Guests     []string `json:"guests,omitempty"`
	Color      string   `json:"color,omitempty"`
	TimeZone   string   `json:"timeZone,omitempty"`
}

// ValidationError collects field level problems for a rejected event.
type ValidationError struct {
	EventID     string
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+v.FieldErrors[field])
	}
	id := v.EventID
	if id == "" {
		id = "<no id>"
	}
	return fmt.Sprintf("event %s: invalid %s", id, strings.Join(parts, "; "))
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// ToEvent validates w and converts it. Timestamps must be RFC 3339; a
// malformed timestamp rejects the whole event.
func (w WireEvent) ToEvent() (Event, error) {
	verr := &ValidationError{EventID: w.ID}

	if strings.TrimSpace(w.ID) == "" {
		verr.add("id", "required")
	}

	loc := time.UTC
	if tz := strings.TrimSpace(w.TimeZone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			verr.add("timeZone", fmt.Sprintf("unknown zone %q", tz))
		} else {
			loc = l
		}
	}

	start, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(w.Start))
	if err != nil {
		verr.add("start", fmt.Sprintf("not an ISO-8601 timestamp: %q", w.Start))
	}
	end, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(w.End))
	if err != nil {
		verr.add("end", fmt.Sprintf("not an ISO-8601 timestamp: %q", w.End))
	}
	if _, bad := verr.FieldErrors["start"]; !bad {
		if _, bad := verr.FieldErrors["end"]; !bad && !end.After(start) {
			verr.add("end", "must be after start")
		}
	}

	if verr.HasErrors() {
		return Event{}, verr
	}

	var rule string
	if len(w.Recurrence) > 0 {
		rule = strings.TrimSpace(w.Recurrence[0])
	}

	return Event{
		ID:             w.ID,
		Title:          w.Title,
		CalendarID:     w.CalendarID,
		Start:          start.In(loc),
		End:            end.In(loc),
		AllDay:         w.AllDay,
		RecurrenceRule: rule,
		Guests:         append([]string(nil), w.Guests...),
		Color:          w.Color,
		TimeZone:       w.TimeZone,
	}, nil
}

// FromEvent converts e to its wire shape.
func FromEvent(e Event) WireEvent {
	w := WireEvent{
		ID:         e.ID,
		Title:      e.Title,
		Start:      e.Start.Format(time.RFC3339Nano),
		End:        e.End.Format(time.RFC3339Nano),
		AllDay:     e.AllDay,
		CalendarID: e.CalendarID,
		Guests:     append([]string(nil), e.Guests...),
		Color:      e.Color,
		TimeZone:   e.TimeZone,
	}
	if e.RecurrenceRule != "" {
		w.Recurrence = []string{e.RecurrenceRule}
	}
	return w
}

// DecodeEvents reads a JSON array of wire events. Events that fail
// validation are dropped and reported in the returned error slice; the
// remaining events keep their input order.
func DecodeEvents(r io.Reader) ([]Event, []error, error) {
	var wire []WireEvent
	dec := json.NewDecoder(r)
	if err := dec.Decode(&wire); err != nil {
		return nil, nil, fmt.Errorf("decode events: %w", err)
	}

	events := make([]Event, 0, len(wire))
	var rejected []error
	for _, w := range wire {
		ev, err := w.ToEvent()
		if err != nil {
			rejected = append(rejected, err)
			continue
		}
		events = append(events, ev)
	}
	return events, rejected, nil
}

// EncodeEvents writes events as an indented JSON array.
func EncodeEvents(events []Event) ([]byte, error) {
	wire := make([]WireEvent, 0, len(events))
	for _, e := range events {
		wire = append(wire, FromEvent(e))
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(wire); err != nil {
		return nil, fmt.Errorf("encode events: %w", err)
	}
	return buf.Bytes(), nil
}
