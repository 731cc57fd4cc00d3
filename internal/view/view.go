// Package view holds the displayed event set, memoizes expansion per window
// and carries the optimistic drag overlay.
package view

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "calgrid/internal/log"
	"calgrid/internal/layout"
	"calgrid/internal/model"
	"calgrid/internal/recur"
)

// maxCached bounds memoized windows per events version.
const maxCached = 32

type span struct {
	start, end time.Time
}

type cacheKey struct {
	version uint64
	window  string
}

// DayLayout is everything a renderer needs for one day column.
type DayLayout struct {
	Day    time.Time
	AllDay []model.Occurrence
	Blocks []layout.Block
}

// View is safe for concurrent use.
type View struct {
	opts recur.Options
	grid layout.Grid

	mu      sync.RWMutex
	events  []model.Event
	byID    map[string]int
	version uint64
	cache   map[cacheKey]recur.Result

	// overlay holds live drag times keyed by event id. Only the non-virtual
	// occurrence of an event is ever draggable, so one entry per event is
	// enough.
	overlay map[string]span
}

// New returns a View over events.
func New(events []model.Event, opts recur.Options, grid layout.Grid) *View {
	v := &View{
		opts:    opts,
		grid:    grid,
		cache:   make(map[cacheKey]recur.Result),
		overlay: make(map[string]span),
	}
	v.setEvents(events)
	return v
}

func (v *View) setEvents(events []model.Event) {
	v.events = append([]model.Event(nil), events...)
	v.byID = make(map[string]int, len(events))
	for i, ev := range v.events {
		v.byID[ev.ID] = i
	}
	v.version++
	clear(v.cache)
}

// Reload replaces the event set. Live overlays survive a reload.
func (v *View) Reload(events []model.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.setEvents(events)
	appLog.Debug("view reloaded", "events", len(events), "version", v.version)
}

// Version increases every time the event set changes.
func (v *View) Version() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.version
}

// Events returns a copy of the current event set.
func (v *View) Events() []model.Event {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]model.Event(nil), v.events...)
}

// Grid returns the grid blocks are positioned on.
func (v *View) Grid() layout.Grid { return v.grid }

func (v *View) expand(win recur.Window) recur.Result {
	v.mu.RLock()
	key := cacheKey{version: v.version, window: win.Key()}
	res, ok := v.cache[key]
	events := v.events
	v.mu.RUnlock()
	if ok {
		return res
	}

	res = recur.Expand(events, win, v.opts)

	v.mu.Lock()
	if v.version == key.version {
		if len(v.cache) >= maxCached {
			clear(v.cache)
		}
		v.cache[key] = res
	}
	v.mu.Unlock()
	return res
}

// Occurrences expands win and applies live drag overlays. The returned
// slice is owned by the caller.
func (v *View) Occurrences(win recur.Window) recur.Result {
	res := v.expand(win)
	occs := make([]model.Occurrence, 0, len(res.Occurrences))

	v.mu.RLock()
	seen := make(map[string]bool, len(v.overlay))
	for _, occ := range res.Occurrences {
		if s, ok := v.overlay[occ.EventID]; ok && !occ.Virtual {
			occ.Start, occ.End = s.start, s.end
			seen[occ.EventID] = true
		}
		if win.Intersects(occ.Start, occ.End) {
			occs = append(occs, occ)
		}
	}
	// A preview dragged into win from outside it is not part of the
	// expansion of the stored times.
	occs = append(occs, v.movedIn(win, seen)...)
	v.mu.RUnlock()

	return recur.Result{Occurrences: occs, Truncated: res.Truncated}
}

// movedIn returns the overlaid series starts intersecting win that the
// expansion did not produce, in event order. Callers hold v.mu.
func (v *View) movedIn(win recur.Window, seen map[string]bool) []model.Occurrence {
	idx := make([]int, 0, len(v.overlay))
	for id, s := range v.overlay {
		i, ok := v.byID[id]
		if !ok || seen[id] || !win.Intersects(s.start, s.end) {
			continue
		}
		idx = append(idx, i)
	}
	if len(idx) == 0 {
		return nil
	}
	slices.Sort(idx)
	out := make([]model.Occurrence, 0, len(idx))
	for _, i := range idx {
		out = append(out, v.withOverlay(v.events[i], v.events[i].Start))
	}
	return out
}

// Day lays out the calendar day containing ref.
func (v *View) Day(ref time.Time) DayLayout {
	win := recur.WindowFor(ref, recur.Day)
	return v.layoutDay(v.Occurrences(win).Occurrences, win.Start)
}

// Week lays out the seven days of the week containing ref, packing the days
// concurrently.
func (v *View) Week(ctx context.Context, ref time.Time) ([]DayLayout, error) {
	win := recur.WindowFor(ref, recur.Week)
	occs := v.Occurrences(win).Occurrences
	days := win.Days()

	out := make([]DayLayout, len(days))
	g, ctx := errgroup.WithContext(ctx)
	for i, day := range days {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = v.layoutDay(occs, day)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (v *View) layoutDay(occs []model.Occurrence, day time.Time) DayLayout {
	return DayLayout{
		Day:    day,
		AllDay: layout.AllDay(occs, day),
		Blocks: v.grid.Blocks(layout.Pack(layout.ForDay(occs, day)), day),
	}
}

// Lookup resolves an occurrence id without a window. Recurring instances
// are decoded from their eventID_startMillis form; any instance other than
// the series start comes back Virtual.
func (v *View) Lookup(id string) (model.Occurrence, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if i, ok := v.byID[id]; ok && !v.events[i].Recurring() {
		return v.withOverlay(v.events[i], v.events[i].Start), true
	}

	sep := strings.LastIndexByte(id, '_')
	if sep <= 0 {
		return model.Occurrence{}, false
	}
	i, ok := v.byID[id[:sep]]
	if !ok || !v.events[i].Recurring() {
		return model.Occurrence{}, false
	}
	ms, err := strconv.ParseInt(id[sep+1:], 10, 64)
	if err != nil {
		return model.Occurrence{}, false
	}
	ev := v.events[i]
	start := time.UnixMilli(ms).In(ev.Start.Location())
	if start.Before(ev.Start) {
		return model.Occurrence{}, false
	}
	return v.withOverlay(ev, start), true
}

func (v *View) withOverlay(ev model.Event, start time.Time) model.Occurrence {
	occ := model.Occurrence{
		ID:      ev.ID,
		EventID: ev.ID,
		Event:   ev,
		Start:   start,
		End:     start.Add(ev.Duration()),
		Virtual: !start.Equal(ev.Start),
	}
	if ev.Recurring() {
		occ.ID = recur.OccurrenceID(ev.ID, start)
	}
	if s, ok := v.overlay[ev.ID]; ok && !occ.Virtual {
		occ.Start, occ.End = s.start, s.end
	}
	return occ
}

// Preview shows start/end for the non-virtual occurrence of eventID until
// the overlay is confirmed, reverted or restored.
func (v *View) Preview(eventID string, start, end time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.overlay[eventID] = span{start, end}
}

// Restore drops the overlay of eventID unconditionally.
func (v *View) Restore(eventID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.overlay, eventID)
}

// RevertIf drops the overlay of eventID only while it still shows start/end.
// It reports whether the overlay was dropped; a newer drag keeps its preview.
func (v *View) RevertIf(eventID string, start, end time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.overlay[eventID]
	if !ok || !s.start.Equal(start) || !s.end.Equal(end) {
		return false
	}
	delete(v.overlay, eventID)
	return true
}

// Confirm adopts a committed update into the event set. A matching overlay
// is dropped; a newer one stays.
func (v *View) Confirm(u model.EventUpdate) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	i, ok := v.byID[u.ID]
	if !ok {
		return false
	}
	ev := v.events[i]
	ev.Start, ev.End = u.Start, u.End

	events := append([]model.Event(nil), v.events...)
	events[i] = ev
	v.setEvents(events)

	if s, ok := v.overlay[u.ID]; ok && s.start.Equal(u.Start) && s.end.Equal(u.End) {
		delete(v.overlay, u.ID)
	}
	return true
}
