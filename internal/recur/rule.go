package recur

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calgrid/internal/log"
)

// modeledKeys is the RRULE subset this engine understands. Other keys are
// dropped before parsing so that a rule carrying e.g. WKST still expands.
var modeledKeys = map[string]bool{
	"FREQ":     true,
	"INTERVAL": true,
	"UNTIL":    true,
	"COUNT":    true,
	"BYDAY":    true,
}

// ErrEmptyRule is returned by ParseRule for blank input.
var ErrEmptyRule = errors.New("recur: empty rule")

// Rule is the parsed subset of an RRULE.
type Rule struct {
	Freq     rrule.Frequency
	Interval int
	Until    *time.Time
	Count    int
	// ByDay is parsed but never consulted by Expand.
	ByDay []rrule.Weekday
}

// Stepped reports whether Expand knows how to advance this rule's frequency.
func (r Rule) Stepped() bool {
	switch r.Freq {
	case rrule.DAILY, rrule.WEEKLY, rrule.MONTHLY, rrule.YEARLY:
		return true
	default:
		return false
	}
}

// ParseRule parses an RRULE string such as
// "RRULE:FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE". UNTIL values without a zone
// are interpreted in loc.
func ParseRule(raw string, loc *time.Location) (Rule, error) {
	body := strings.TrimSpace(raw)
	body = strings.TrimPrefix(body, "RRULE:")
	if body == "" {
		return Rule{}, ErrEmptyRule
	}
	if loc == nil {
		loc = time.UTC
	}

	kept := make([]string, 0, 5)
	for _, part := range strings.Split(body, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return Rule{}, fmt.Errorf("recur: malformed rule part %q", part)
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		if !modeledKeys[key] {
			appLog.Debug("recur: ignoring unmodeled rule key", "key", key, "rule", raw)
			continue
		}
		value = strings.TrimSpace(value)
		if (key == "UNTIL" || key == "COUNT") && !validBound(key, value, loc) {
			// Bounds are advisory unless enforced; a bad one must not sink
			// the whole series.
			appLog.Debug("recur: dropping unparsable rule bound", "key", key, "value", value, "rule", raw)
			continue
		}
		kept = append(kept, key+"="+value)
	}

	opt, err := rrule.StrToROptionInLocation(strings.Join(kept, ";"), loc)
	if err != nil {
		return Rule{}, fmt.Errorf("recur: parse %q: %w", raw, err)
	}

	r := Rule{
		Freq:     opt.Freq,
		Interval: opt.Interval,
		Count:    opt.Count,
		ByDay:    opt.Byweekday,
	}
	if r.Interval <= 0 {
		r.Interval = 1
	}
	if !opt.Until.IsZero() {
		until := opt.Until
		r.Until = &until
	}
	return r, nil
}

func validBound(key, value string, loc *time.Location) bool {
	_, err := rrule.StrToROptionInLocation("FREQ=DAILY;"+key+"="+value, loc)
	return err == nil
}

// nth returns the i-th candidate start of a series anchored at start.
// Steps are always taken from the anchor so month-end clamping never drifts
// (Jan 31 -> Feb 28 -> Mar 31).
func (r Rule) nth(start time.Time, i int) time.Time {
	n := i * r.Interval
	switch r.Freq {
	case rrule.DAILY:
		return start.AddDate(0, 0, n)
	case rrule.WEEKLY:
		return start.AddDate(0, 0, 7*n)
	case rrule.MONTHLY:
		return addMonthsClamped(start, n)
	case rrule.YEARLY:
		return addMonthsClamped(start, 12*n)
	default:
		return start
	}
}

// addMonthsClamped keeps t's day-of-month, clamped to the target month's
// last day, and t's wall-clock time.
func addMonthsClamped(t time.Time, months int) time.Time {
	loc := t.Location()
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	ns := t.Nanosecond()

	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, loc)
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, hh, mm, ss, ns, loc)
}
