package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calgrid/internal/log"
	"calgrid/internal/model"
)

// Import is the outcome of parsing one ICS payload.
type Import struct {
	Events []model.Event
	// Overrides counts RECURRENCE-ID instances that were skipped; per-instance
	// edits are not modeled.
	Overrides int
	// ExDates counts EXDATE values that were dropped.
	ExDates int
	// Rejected holds one error per VEVENT that could not be mapped.
	Rejected []error
}

// Parse maps the VEVENTs of body onto events of calendar src.ID. Floating
// and date-only times are read in loc (time.Local when nil). When a UID
// appears more than once the highest SEQUENCE wins.
func Parse(src Source, body []byte, loc *time.Location) (Import, error) {
	var out Import
	if len(body) == 0 {
		return out, errors.New("ics: empty body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return out, fmt.Errorf("ics: parse calendar: %w", err)
	}

	seqs := make(map[string]int)
	index := make(map[string]int)
	for _, ve := range cal.Events() {
		if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
			out.Overrides++
			continue
		}
		ev, seq, exdates, err := mapVEvent(src, ve, loc)
		out.ExDates += exdates
		if err != nil {
			out.Rejected = append(out.Rejected, err)
			appLog.Error("ics vevent rejected", err, "id", src.ID)
			continue
		}
		if i, dup := index[ev.ID]; dup {
			if seq >= seqs[ev.ID] {
				out.Events[i] = ev
				seqs[ev.ID] = seq
			}
			continue
		}
		index[ev.ID] = len(out.Events)
		seqs[ev.ID] = seq
		out.Events = append(out.Events, ev)
	}

	if out.Overrides > 0 || out.ExDates > 0 {
		appLog.Info("ics: instance exceptions dropped", "id", src.ID, "overrides", out.Overrides, "exdates", out.ExDates)
	}
	appLog.Info("ics parse completed", "id", src.ID, "url", redactURL(src.URL), "event_count", len(out.Events), "rejected", len(out.Rejected))
	return out, nil
}

func mapVEvent(src Source, ve *ical.VEvent, loc *time.Location) (model.Event, int, int, error) {
	var ev model.Event
	ev.CalendarID = src.ID

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || strings.TrimSpace(uid.Value) == "" {
		return ev, 0, 0, errors.New("ics: vevent missing UID")
	}
	ev.ID = strings.TrimSpace(uid.Value)

	seq := 0
	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		seq, _ = strconv.Atoi(strings.TrimSpace(p.Value))
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.Title = p.Value
	}
	if p := ve.GetProperty("COLOR"); p != nil {
		ev.Color = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return ev, seq, 0, fmt.Errorf("ics: event %s: missing DTSTART", ev.ID)
	}
	start, allDay, tz, err := propTime(dtStart.Value, dtStart.ICalParameters, loc)
	if err != nil {
		return ev, seq, 0, fmt.Errorf("ics: event %s: DTSTART: %w", ev.ID, err)
	}
	ev.Start, ev.AllDay, ev.TimeZone = start, allDay, tz

	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
		end, _, _, err := propTime(dtEnd.Value, dtEnd.ICalParameters, loc)
		if err != nil {
			return ev, seq, 0, fmt.Errorf("ics: event %s: DTEND: %w", ev.ID, err)
		}
		ev.End = end
	} else if allDay {
		ev.End = start.AddDate(0, 0, 1)
	}
	if !ev.End.After(ev.Start) {
		return ev, seq, 0, fmt.Errorf("ics: event %s: end must be after start", ev.ID)
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil && p.Value != "" {
		ev.RecurrenceRule = "RRULE:" + p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyAttendee) {
		if addr := strings.TrimSpace(p.Value); addr != "" {
			if len(addr) > 7 && strings.EqualFold(addr[:7], "mailto:") {
				addr = addr[7:]
			}
			ev.Guests = append(ev.Guests, addr)
		}
	}

	exdates := 0
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if strings.TrimSpace(part) != "" {
				exdates++
			}
		}
	}
	return ev, seq, exdates, nil
}

// propTime parses a DATE or DATE-TIME property value. It reports whether the
// value is a date and the IANA zone the value was read in, if any.
func propTime(v string, params map[string][]string, loc *time.Location) (time.Time, bool, string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, "", errors.New("empty time value")
	}

	tz := ""
	if tzs := params[string(ical.ParameterTzid)]; len(tzs) > 0 && tzs[0] != "" {
		l, err := time.LoadLocation(tzs[0])
		if err != nil {
			return time.Time{}, false, "", fmt.Errorf("unknown TZID %q: %w", tzs[0], err)
		}
		loc, tz = l, tzs[0]
	}

	isDate := !strings.Contains(v, "T")
	if vs := params[string(ical.ParameterValue)]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		isDate = true
	}

	switch {
	case isDate:
		t, err := time.ParseInLocation("20060102", v, loc)
		return t, true, tz, err
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, "UTC", err
	default:
		t, err := time.ParseInLocation("20060102T150405", v, loc)
		return t, false, tz, err
	}
}
