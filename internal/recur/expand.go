package recur

import (
	"strconv"
	"time"

	appLog "calgrid/internal/log"
	"calgrid/internal/model"
)

// DefaultMaxIterations bounds the candidates visited per recurring event.
const DefaultMaxIterations = 500

// Options controls expansion.
type Options struct {
	// MaxIterations is a safety cap on candidates per event. Zero means
	// DefaultMaxIterations.
	MaxIterations int

	// EnforceBounds makes UNTIL and COUNT terminating conditions. When false
	// they are parsed but only the window and MaxIterations stop a series.
	EnforceBounds bool
}

// Result is the output of Expand.
type Result struct {
	Occurrences []model.Occurrence
	// Truncated lists event IDs whose expansion hit MaxIterations before
	// passing the window end.
	Truncated []string
}

// OccurrenceID derives a stable synthetic id for an instance of a recurring
// event from the event id and the instance start.
func OccurrenceID(eventID string, start time.Time) string {
	return eventID + "_" + strconv.FormatInt(start.UnixMilli(), 10)
}

// Expand turns events into the occurrences that intersect win. Output keeps
// the input event order and, within a series, increasing start. Expand has
// no side effects beyond logging and is safe to call concurrently.
func Expand(events []model.Event, win Window, opts Options) Result {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}

	var res Result
	for _, ev := range events {
		if !ev.Recurring() {
			if win.Intersects(ev.Start, ev.End) {
				res.Occurrences = append(res.Occurrences, model.Occurrence{
					ID:      ev.ID,
					EventID: ev.ID,
					Event:   ev,
					Start:   ev.Start,
					End:     ev.End,
				})
			}
			continue
		}

		occs, truncated := expandSeries(ev, win, opts)
		res.Occurrences = append(res.Occurrences, occs...)
		if truncated {
			res.Truncated = append(res.Truncated, ev.ID)
			appLog.Info("expand: series truncated at iteration cap",
				"event_id", ev.ID,
				"cap", opts.MaxIterations,
				"window_start", win.Start.Format(time.RFC3339),
			)
		}
	}
	return res
}

func expandSeries(ev model.Event, win Window, opts Options) ([]model.Occurrence, bool) {
	rule, err := ParseRule(ev.RecurrenceRule, ev.Start.Location())
	stepped := err == nil && rule.Stepped()
	if !stepped {
		kv := []any{"event_id", ev.ID, "rule", ev.RecurrenceRule}
		if err != nil {
			kv = append(kv, "parse_error", err.Error())
		} else {
			kv = append(kv, "freq", rule.Freq)
		}
		appLog.Info("expand: unsupported recurrence; emitting first candidate only", kv...)
	}

	duration := ev.Duration()
	var out []model.Occurrence

	for i := 0; ; i++ {
		if i >= opts.MaxIterations {
			return out, true
		}

		cursor := ev.Start
		if stepped {
			cursor = rule.nth(ev.Start, i)
		}
		if cursor.After(win.End) {
			break
		}
		if opts.EnforceBounds && stepped {
			if rule.Until != nil && cursor.After(*rule.Until) {
				break
			}
			if rule.Count > 0 && i >= rule.Count {
				break
			}
		}

		end := cursor.Add(duration)
		if win.Intersects(cursor, end) {
			out = append(out, model.Occurrence{
				ID:      OccurrenceID(ev.ID, cursor),
				EventID: ev.ID,
				Event:   ev,
				Start:   cursor,
				End:     end,
				Virtual: !cursor.Equal(ev.Start),
			})
		}

		if !stepped {
			break
		}
	}
	return out, false
}
