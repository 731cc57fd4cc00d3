package recur

import (
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	appLog "calgrid/internal/log"
	"calgrid/internal/model"
)

func dayWindow(y int, m time.Month, d int) Window {
	return WindowFor(time.Date(y, m, d, 12, 0, 0, 0, time.UTC), Day)
}

func TestExpand_NonRecurringIntersection(t *testing.T) {
	t.Parallel()

	win := dayWindow(2026, 3, 4)
	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  int
	}{
		{name: "inside", start: time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC), end: time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC), want: 1},
		{name: "crosses_start", start: time.Date(2026, 3, 3, 23, 0, 0, 0, time.UTC), end: time.Date(2026, 3, 4, 1, 0, 0, 0, time.UTC), want: 1},
		{name: "ends_at_window_start", start: time.Date(2026, 3, 3, 22, 0, 0, 0, time.UTC), end: win.Start, want: 0},
		{name: "day_after", start: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), end: time.Date(2026, 3, 5, 1, 0, 0, 0, time.UTC), want: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ev := model.Event{ID: "e", Start: tc.start, End: tc.end}
			res := Expand([]model.Event{ev}, win, Options{})
			if len(res.Occurrences) != tc.want {
				t.Fatalf("expected %d occurrences, got %d", tc.want, len(res.Occurrences))
			}
			if tc.want == 1 {
				occ := res.Occurrences[0]
				if occ.ID != "e" || occ.Virtual || !occ.Start.Equal(tc.start) || !occ.End.Equal(tc.end) {
					t.Fatalf("one-off event must be included unmodified, got %+v", occ)
				}
			}
		})
	}
}

func TestExpand_DailySevenDayWindow(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	ev := model.Event{
		ID:             "standup",
		Start:          start,
		End:            start.Add(45 * time.Minute),
		RecurrenceRule: "RRULE:FREQ=DAILY;INTERVAL=1",
	}

	res := Expand([]model.Event{ev}, WindowFor(start, Week), Options{})
	if len(res.Occurrences) != 7 {
		t.Fatalf("expected 7 occurrences, got %d", len(res.Occurrences))
	}
	for i, occ := range res.Occurrences {
		if occ.Duration() != 45*time.Minute {
			t.Fatalf("occurrence %d duration %v", i, occ.Duration())
		}
		if i == 0 {
			if occ.Virtual {
				t.Fatalf("first instance must not be virtual")
			}
			continue
		}
		if !occ.Virtual {
			t.Fatalf("instance %d should be virtual", i)
		}
		if gap := occ.Start.Sub(res.Occurrences[i-1].Start); gap != 24*time.Hour {
			t.Fatalf("instance %d spaced %v from previous", i, gap)
		}
	}
}

func TestExpand_Idempotent(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 2, 3, 14, 0, 0, 0, time.UTC)
	events := []model.Event{
		{ID: "a", Start: start, End: start.Add(time.Hour), RecurrenceRule: "FREQ=WEEKLY;INTERVAL=1;BYDAY=TU"},
		{ID: "b", Start: start.Add(2 * time.Hour), End: start.Add(3 * time.Hour)},
		{ID: "c", Start: start, End: start.Add(time.Hour), RecurrenceRule: "FREQ=DAILY;INTERVAL=3"},
	}
	win := WindowFor(start, Month)

	first := Expand(events, win, Options{})
	second := Expand(events, win, Options{})
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expand is not idempotent")
	}
}

func TestExpand_OrderFollowsInputThenStart(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	events := []model.Event{
		{ID: "late", Start: start.Add(10 * time.Hour), End: start.Add(11 * time.Hour)},
		{ID: "daily", Start: start, End: start.Add(time.Hour), RecurrenceRule: "FREQ=DAILY"},
	}
	res := Expand(events, WindowFor(start, Week), Options{})
	if res.Occurrences[0].EventID != "late" {
		t.Fatalf("expected input order to be preserved, got %s first", res.Occurrences[0].EventID)
	}
	for i := 2; i < len(res.Occurrences); i++ {
		if !res.Occurrences[i].Start.After(res.Occurrences[i-1].Start) {
			t.Fatalf("series not increasing at %d", i)
		}
	}
}

func TestExpand_StepRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		start time.Time
		rule  string
		win   Window
		want  []time.Time
	}{
		{
			name:  "weekly_interval_two",
			start: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
			rule:  "FREQ=WEEKLY;INTERVAL=2",
			win:   WindowFor(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), Month),
			want: []time.Time{
				time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
				time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC),
				time.Date(2026, 3, 30, 9, 0, 0, 0, time.UTC),
			},
		},
		{
			name:  "monthly_clamps_to_month_end",
			start: time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC),
			rule:  "FREQ=MONTHLY",
			win:   Window{Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2026, 4, 30, 23, 59, 59, 0, time.UTC)},
			want: []time.Time{
				time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC),
				time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC),
				time.Date(2026, 3, 31, 9, 0, 0, 0, time.UTC),
				time.Date(2026, 4, 30, 9, 0, 0, 0, time.UTC),
			},
		},
		{
			name:  "yearly_leap_day",
			start: time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC),
			rule:  "RRULE:FREQ=YEARLY",
			win:   WindowFor(time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC), Month),
			want:  []time.Time{time.Date(2025, 2, 28, 9, 0, 0, 0, time.UTC)},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ev := model.Event{ID: "s", Start: tc.start, End: tc.start.Add(time.Hour), RecurrenceRule: tc.rule}
			res := Expand([]model.Event{ev}, tc.win, Options{})
			if len(res.Occurrences) != len(tc.want) {
				t.Fatalf("expected %d occurrences, got %d", len(tc.want), len(res.Occurrences))
			}
			for i, occ := range res.Occurrences {
				if !occ.Start.Equal(tc.want[i]) {
					t.Fatalf("occurrence %d start %v, want %v", i, occ.Start, tc.want[i])
				}
			}
		})
	}
}

func TestExpand_UntilAndCountAreNotHardStopsByDefault(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ev := model.Event{
		ID:             "bounded",
		Start:          start,
		End:            start.Add(time.Hour),
		RecurrenceRule: "FREQ=DAILY;COUNT=2;UNTIL=20260302T235959Z",
	}
	win := WindowFor(start, Week)

	if got := len(Expand([]model.Event{ev}, win, Options{}).Occurrences); got != 7 {
		t.Fatalf("default expansion should ignore COUNT/UNTIL, got %d", got)
	}
	if got := len(Expand([]model.Event{ev}, win, Options{EnforceBounds: true}).Occurrences); got != 2 {
		t.Fatalf("enforced expansion should stop at COUNT/UNTIL, got %d", got)
	}
}

func TestExpand_MalformedBoundsAreDropped(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tests := map[string]string{
		"count": "FREQ=DAILY;COUNT=two",
		"until": "FREQ=DAILY;UNTIL=next-friday",
	}
	for name, rule := range tests {
		r, err := ParseRule(rule, time.UTC)
		if err != nil {
			t.Fatalf("%s: parse: %v", name, err)
		}
		if r.Count != 0 || r.Until != nil || !r.Stepped() {
			t.Fatalf("%s: bad bound should be dropped, got %+v", name, r)
		}

		ev := model.Event{ID: name, Start: start, End: start.Add(time.Hour), RecurrenceRule: rule}
		for _, opts := range []Options{{}, {EnforceBounds: true}} {
			if got := len(Expand([]model.Event{ev}, WindowFor(start, Week), opts).Occurrences); got != 7 {
				t.Fatalf("%s (enforce=%v): expected the full daily week, got %d", name, opts.EnforceBounds, got)
			}
		}
	}
}

func TestExpand_IterationCap(t *testing.T) {
	t.Parallel()

	start := time.Date(2020, 1, 1, 9, 0, 0, 0, time.UTC)
	ev := model.Event{ID: "old", Start: start, End: start.Add(time.Hour), RecurrenceRule: "FREQ=DAILY"}
	win := dayWindow(2026, 3, 4)

	res := Expand([]model.Event{ev}, win, Options{MaxIterations: 100})
	if len(res.Occurrences) != 0 {
		t.Fatalf("expected no occurrences before cap reached window, got %d", len(res.Occurrences))
	}
	if len(res.Truncated) != 1 || res.Truncated[0] != "old" {
		t.Fatalf("expected truncation to be reported, got %v", res.Truncated)
	}
}

func TestExpand_StableOccurrenceIDs(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ev := model.Event{ID: "evt", Start: start, End: start.Add(time.Hour), RecurrenceRule: "FREQ=DAILY"}

	week := Expand([]model.Event{ev}, WindowFor(start, Week), Options{})
	day := Expand([]model.Event{ev}, dayWindow(2026, 3, 4), Options{})
	if len(day.Occurrences) != 1 {
		t.Fatalf("expected 1 occurrence in day window, got %d", len(day.Occurrences))
	}
	if day.Occurrences[0].ID != week.Occurrences[3].ID {
		t.Fatalf("id depends on window: %s vs %s", day.Occurrences[0].ID, week.Occurrences[3].ID)
	}
	if want := OccurrenceID("evt", time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)); day.Occurrences[0].ID != want {
		t.Fatalf("unexpected id %s, want %s", day.Occurrences[0].ID, want)
	}
}

func TestExpand_UnsupportedFrequencyLogsAndDegrades(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	appLog.Use(zap.New(core))

	start := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	events := []model.Event{
		{ID: "hourly", Start: start, End: start.Add(30 * time.Minute), RecurrenceRule: "FREQ=HOURLY"},
		{ID: "bogus", Start: start, End: start.Add(30 * time.Minute), RecurrenceRule: "FREQ=FORTNIGHTLY"},
	}

	res := Expand(events, dayWindow(2026, 3, 4), Options{})
	if len(res.Occurrences) != 2 {
		t.Fatalf("expected only the first candidate per event, got %d", len(res.Occurrences))
	}
	for _, occ := range res.Occurrences {
		if occ.Virtual {
			t.Fatalf("first candidate must not be virtual: %+v", occ)
		}
	}

	entries := logs.FilterMessage("expand: unsupported recurrence; emitting first candidate only").All()
	if len(entries) != 2 {
		t.Fatalf("expected a diagnostic per unsupported rule, got %d", len(entries))
	}
}

func TestParseRule(t *testing.T) {
	t.Parallel()

	r, err := ParseRule("RRULE:FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE;WKST=SU;UNTIL=20261231T000000Z", time.UTC)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if r.Interval != 2 || len(r.ByDay) != 2 || r.Until == nil {
		t.Fatalf("unexpected rule: %+v", r)
	}
	if !r.Stepped() {
		t.Fatalf("weekly rule should be stepped")
	}

	if r, err := ParseRule("FREQ=DAILY", time.UTC); err != nil || r.Interval != 1 {
		t.Fatalf("default interval should be 1, got %+v, %v", r, err)
	}
	if _, err := ParseRule("  ", time.UTC); err != ErrEmptyRule {
		t.Fatalf("expected ErrEmptyRule, got %v", err)
	}
	if _, err := ParseRule("FREQ", time.UTC); err == nil {
		t.Fatalf("expected malformed part error")
	}
}
