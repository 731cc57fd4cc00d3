package layout

import (
	"math/rand/v2"
	"sort"
	"strconv"
	"testing"
	"testing/quick"
	"time"

	"calgrid/internal/model"
)

var day = time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)

func occ(id string, startMin, endMin int) model.Occurrence {
	return model.Occurrence{
		ID:      id,
		EventID: id,
		Start:   day.Add(time.Duration(startMin) * time.Minute),
		End:     day.Add(time.Duration(endMin) * time.Minute),
	}
}

func byID(packed []PackedOccurrence) map[string]PackedOccurrence {
	out := make(map[string]PackedOccurrence, len(packed))
	for _, p := range packed {
		out[p.ID] = p
	}
	return out
}

func TestPack_Columns(t *testing.T) {
	t.Parallel()

	packed := byID(Pack([]model.Occurrence{
		occ("short", 600, 630),
		occ("long", 600, 720),
		occ("later", 630, 660),
		occ("after", 720, 780),
	}))

	if packed["long"].ColumnIndex != 0 {
		t.Fatalf("longer occurrence should win column 0 on ties, got %d", packed["long"].ColumnIndex)
	}
	if packed["short"].ColumnIndex != 1 {
		t.Fatalf("short should be pushed to column 1, got %d", packed["short"].ColumnIndex)
	}
	if packed["later"].ColumnIndex != 1 {
		t.Fatalf("later should reuse column 1 once short ends, got %d", packed["later"].ColumnIndex)
	}
	if packed["after"].ColumnIndex != 0 {
		t.Fatalf("after should reuse column 0 (touching end is not overlap), got %d", packed["after"].ColumnIndex)
	}
	for id, p := range packed {
		if p.ColumnCount != 2 || p.WidthPercent != 50 {
			t.Fatalf("%s: columnCount=%d width=%v, want 2 and 50", id, p.ColumnCount, p.WidthPercent)
		}
	}
	if packed["short"].LeftPercent != 50 {
		t.Fatalf("unexpected left percent %v", packed["short"].LeftPercent)
	}
}

func TestPack_GlobalColumnCount(t *testing.T) {
	t.Parallel()

	// An isolated morning event still shares the day-wide column count.
	packed := byID(Pack([]model.Occurrence{
		occ("alone", 60, 90),
		occ("a", 600, 700),
		occ("b", 610, 700),
		occ("c", 620, 700),
	}))
	if packed["alone"].ColumnCount != 3 {
		t.Fatalf("expected global column count 3, got %d", packed["alone"].ColumnCount)
	}
}

func TestPack_Empty(t *testing.T) {
	t.Parallel()

	if got := Pack(nil); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
}

func randomOccurrences(r *rand.Rand) []model.Occurrence {
	n := 1 + r.IntN(40)
	out := make([]model.Occurrence, 0, n)
	for i := 0; i < n; i++ {
		start := r.IntN(24*60 - 15)
		length := 5 + r.IntN(180)
		out = append(out, occ(strconv.Itoa(i), start, start+length))
	}
	return out
}

// maxClique sweeps interval endpoints; ends sort before starts at equal
// times because intervals are half-open.
func maxClique(occs []model.Occurrence) int {
	type point struct {
		at    time.Time
		delta int
	}
	points := make([]point, 0, 2*len(occs))
	for _, o := range occs {
		points = append(points, point{o.Start, 1}, point{o.End, -1})
	}
	sort.Slice(points, func(i, j int) bool {
		if !points[i].at.Equal(points[j].at) {
			return points[i].at.Before(points[j].at)
		}
		return points[i].delta < points[j].delta
	})
	best, cur := 0, 0
	for _, p := range points {
		cur += p.delta
		if cur > best {
			best = cur
		}
	}
	return best
}

func TestPack_NoSameColumnOverlap(t *testing.T) {
	t.Parallel()

	property := func(seed uint64) bool {
		r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		packed := Pack(randomOccurrences(r))
		for i := range packed {
			for j := i + 1; j < len(packed); j++ {
				a, b := packed[i], packed[j]
				if a.ColumnIndex == b.ColumnIndex && a.Overlaps(b.Start, b.End) {
					return false
				}
			}
		}
		return true
	}
	if err := quick.Check(property, &quick.Config{MaxCount: 300}); err != nil {
		t.Fatalf("same-column overlap found: %v", err)
	}
}

func TestPack_ColumnCountEqualsMaxClique(t *testing.T) {
	t.Parallel()

	property := func(seed uint64) bool {
		r := rand.New(rand.NewPCG(seed, 42))
		occs := randomOccurrences(r)
		packed := Pack(occs)
		return packed[0].ColumnCount == maxClique(occs)
	}
	if err := quick.Check(property, &quick.Config{MaxCount: 300}); err != nil {
		t.Fatalf("column count differs from max clique: %v", err)
	}
}

func TestForDay_SkipsAllDayAndOtherDays(t *testing.T) {
	t.Parallel()

	timed := occ("timed", 540, 600)
	allDay := occ("allday", 0, 24*60)
	allDay.Event.AllDay = true
	tomorrow := occ("tomorrow", 24*60+60, 24*60+120)
	overnight := occ("overnight", -60, 60)

	got := ForDay([]model.Occurrence{timed, allDay, tomorrow, overnight}, day)
	if len(got) != 2 || got[0].ID != "timed" || got[1].ID != "overnight" {
		t.Fatalf("unexpected day selection: %+v", got)
	}
	if ad := AllDay([]model.Occurrence{timed, allDay}, day); len(ad) != 1 || ad[0].ID != "allday" {
		t.Fatalf("unexpected all-day selection: %+v", ad)
	}
}
