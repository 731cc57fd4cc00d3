package layout

import (
	"sort"
	"time"

	"calgrid/internal/model"
)

// PackedOccurrence is an occurrence assigned to a display column.
type PackedOccurrence struct {
	model.Occurrence

	ColumnIndex int
	ColumnCount int

	WidthPercent float64
	LeftPercent  float64
}

// Pack assigns same-day timed occurrences to non-overlapping columns using
// greedy interval-graph coloring:
//
//   - occurrences are visited by start ascending, longer first on ties;
//   - each goes into the first column whose last occurrence ends at or
//     before its start, or into a new column;
//   - ColumnCount is the number of columns opened for the whole set.
//
// Occurrences sharing a column never overlap, and ColumnCount equals the
// size of the largest mutually overlapping group. Callers are expected to
// drop all-day occurrences first (see ForDay).
func Pack(occs []model.Occurrence) []PackedOccurrence {
	if len(occs) == 0 {
		return nil
	}

	sorted := make([]model.Occurrence, len(occs))
	copy(sorted, occs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].Start.Before(sorted[j].Start)
		}
		return sorted[i].End.After(sorted[j].End)
	})

	// columnEnds[c] is the end of the last occurrence placed in column c.
	columnEnds := make([]time.Time, 0, 4)
	packed := make([]PackedOccurrence, 0, len(sorted))

	for _, occ := range sorted {
		col := -1
		for c, end := range columnEnds {
			if !end.After(occ.Start) {
				col = c
				break
			}
		}
		if col < 0 {
			col = len(columnEnds)
			columnEnds = append(columnEnds, occ.End)
		} else {
			columnEnds[col] = occ.End
		}
		packed = append(packed, PackedOccurrence{Occurrence: occ, ColumnIndex: col})
	}

	count := len(columnEnds)
	width := 100 / float64(count)
	for i := range packed {
		packed[i].ColumnCount = count
		packed[i].WidthPercent = width
		packed[i].LeftPercent = float64(packed[i].ColumnIndex) * width
	}
	return packed
}

// ForDay returns the timed (non all-day) occurrences intersecting the
// calendar day that starts at midnight day.
func ForDay(occs []model.Occurrence, day time.Time) []model.Occurrence {
	next := day.AddDate(0, 0, 1)
	out := make([]model.Occurrence, 0, len(occs))
	for _, occ := range occs {
		if occ.Event.AllDay {
			continue
		}
		if occ.Overlaps(day, next) {
			out = append(out, occ)
		}
	}
	return out
}

// AllDay returns the all-day occurrences intersecting the given day.
func AllDay(occs []model.Occurrence, day time.Time) []model.Occurrence {
	next := day.AddDate(0, 0, 1)
	var out []model.Occurrence
	for _, occ := range occs {
		if occ.Event.AllDay && occ.Overlaps(day, next) {
			out = append(out, occ)
		}
	}
	return out
}
