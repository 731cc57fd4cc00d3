// Package drag implements move and resize of calendar blocks with minute
// snapping and optimistic persistence.
package drag

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	appLog "calgrid/internal/log"
	"calgrid/internal/model"
	"calgrid/internal/notify"
	"calgrid/internal/persist"
)

var (
	ErrVirtualOccurrence = errors.New("drag: virtual occurrences cannot be dragged")
	ErrSessionActive     = errors.New("drag: a drag session is already active")
	ErrNoSession         = errors.New("drag: no active drag session")
	ErrUnknownOccurrence = errors.New("drag: unknown occurrence")
)

// Target is the part of a block the pointer went down on.
type Target string

const (
	TargetBody         Target = "body"
	TargetResizeHandle Target = "resize-handle"
)

// Kind is the manipulation a session performs.
type Kind string

const (
	KindMove   Kind = "move"
	KindResize Kind = "resize"
)

// Pointer is one pointer sample in grid pixels.
type Pointer struct {
	Y            float64
	OccurrenceID string
	Target       Target
}

// Session is the state of an active drag.
type Session struct {
	ID                 string
	TargetOccurrenceID string
	EventID            string
	Kind               Kind
	AnchorY            float64

	OriginalStart time.Time
	OriginalEnd   time.Time

	// Start and End are the latest snapped candidate.
	Start time.Time
	End   time.Time

	virtual bool
}

// Config tunes snapping.
type Config struct {
	SnapMinutes        int
	MinDurationMinutes int
	PixelsPerMinute    float64
}

// DefaultConfig snaps to 15 minutes on a 1px-per-minute grid.
var DefaultConfig = Config{SnapMinutes: 15, MinDurationMinutes: 15, PixelsPerMinute: 1}

func (c Config) normalized() Config {
	if c.SnapMinutes <= 0 {
		c.SnapMinutes = DefaultConfig.SnapMinutes
	}
	if c.MinDurationMinutes <= 0 {
		c.MinDurationMinutes = DefaultConfig.MinDurationMinutes
	}
	if c.PixelsPerMinute <= 0 {
		c.PixelsPerMinute = DefaultConfig.PixelsPerMinute
	}
	return c
}

// Surface is the displayed occurrence state a drag mutates. *view.View
// implements it.
type Surface interface {
	Lookup(occurrenceID string) (model.Occurrence, bool)
	Preview(eventID string, start, end time.Time)
	Restore(eventID string)
	RevertIf(eventID string, start, end time.Time) bool
	Confirm(u model.EventUpdate) bool
}

// Submitter hands an update to persistence without blocking.
// *persist.Committer implements it.
type Submitter interface {
	Submit(u model.EventUpdate, done func(persist.Result)) string
}

// Controller runs at most one drag session at a time. Lock order is
// Controller, then Submitter, then Surface; commit results arrive on
// Submitter goroutines and only touch the Surface and the notifier.
type Controller struct {
	cfg      Config
	surface  Surface
	commits  Submitter
	notifier notify.Notifier

	mu      sync.Mutex
	session *Session
}

// New returns an idle Controller. A nil notifier logs notifications.
func New(surface Surface, commits Submitter, notifier notify.Notifier, cfg Config) *Controller {
	if notifier == nil {
		notifier = notify.Log{}
	}
	return &Controller{
		cfg:      cfg.normalized(),
		surface:  surface,
		commits:  commits,
		notifier: notifier,
	}
}

// Active returns a copy of the open session, if any.
func (c *Controller) Active() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// OnDragStart opens a session on p.OccurrenceID. A resize-handle target
// resizes; anything else moves.
func (c *Controller) OnDragStart(p Pointer) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return Session{}, ErrSessionActive
	}
	occ, ok := c.surface.Lookup(p.OccurrenceID)
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrUnknownOccurrence, p.OccurrenceID)
	}
	if occ.Virtual {
		return Session{}, ErrVirtualOccurrence
	}

	kind := KindMove
	if p.Target == TargetResizeHandle {
		kind = KindResize
	}
	c.session = &Session{
		ID:                 uuid.NewString(),
		TargetOccurrenceID: occ.ID,
		EventID:            occ.EventID,
		Kind:               kind,
		AnchorY:            p.Y,
		OriginalStart:      occ.Start,
		OriginalEnd:        occ.End,
		Start:              occ.Start,
		End:                occ.End,
		virtual:            occ.Virtual,
	}
	appLog.Debug("drag started", "session_id", c.session.ID, "occurrence_id", occ.ID, "kind", kind)
	return *c.session, nil
}

// OnDragMove recomputes the candidate from p.Y and previews it.
func (c *Controller) OnDragMove(p Pointer) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return Session{}, ErrNoSession
	}
	c.apply(p.Y)
	return *c.session, nil
}

// OnDragEnd applies p.Y, closes the session and submits the candidate. It
// returns the commit id without waiting for persistence; the outcome is
// reported through the notifier and reflected on the Surface.
func (c *Controller) OnDragEnd(p Pointer) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s == nil {
		return "", ErrNoSession
	}
	c.apply(p.Y)
	c.session = nil

	if s.virtual {
		c.surface.Restore(s.EventID)
		return "", ErrVirtualOccurrence
	}
	u := model.EventUpdate{ID: s.EventID, Start: s.Start, End: s.End}
	commitID := c.commits.Submit(u, c.resolve)
	appLog.Info("drag committed", "session_id", s.ID, "commit_id", commitID, "event_id", u.ID,
		"start", u.Start.Format(time.RFC3339), "end", u.End.Format(time.RFC3339))
	return commitID, nil
}

// Cancel closes the session and restores the originals without persisting.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return ErrNoSession
	}
	c.surface.Restore(c.session.EventID)
	appLog.Debug("drag canceled", "session_id", c.session.ID)
	c.session = nil
	return nil
}

// apply must be called with c.mu held.
func (c *Controller) apply(y float64) {
	s := c.session
	minutes := Snap((y-s.AnchorY)/c.cfg.PixelsPerMinute, c.cfg.SnapMinutes)
	delta := time.Duration(minutes) * time.Minute

	switch s.Kind {
	case KindResize:
		s.Start = s.OriginalStart
		s.End = ClampEnd(s.OriginalStart, s.OriginalEnd.Add(delta), time.Duration(c.cfg.MinDurationMinutes)*time.Minute)
	default:
		s.Start = s.OriginalStart.Add(delta)
		s.End = s.OriginalEnd.Add(delta)
	}
	c.surface.Preview(s.EventID, s.Start, s.End)
}

func (c *Controller) resolve(res persist.Result) {
	n := notify.Notification{
		EventID:  res.Update.ID,
		CommitID: res.CommitID,
		At:       time.Now(),
	}
	if res.Err != nil {
		reverted := c.surface.RevertIf(res.Update.ID, res.Update.Start, res.Update.End)
		n.Level = notify.LevelError
		n.Title = "Update failed"
		n.Message = res.Err.Error()
		appLog.Error("drag commit failed", res.Err, "commit_id", res.CommitID, "reverted", reverted)
	} else {
		c.surface.Confirm(res.Update)
		n.Level = notify.LevelSuccess
		n.Title = "Event updated"
		n.Message = fmt.Sprintf("Moved to %s - %s", res.Update.Start.Format("Mon 15:04"), res.Update.End.Format("15:04"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.notifier.Notify(ctx, n); err != nil {
		appLog.Error("notify failed", err, "commit_id", res.CommitID)
	}
}

// Snap rounds minutes to the nearest multiple of step; halves round up
// (toward +inf), so -7.5 snaps to 0 and 7.5 to 15.
func Snap(minutes float64, step int) int {
	s := float64(step)
	return int(math.Floor(minutes/s+0.5) * s)
}

// ClampEnd keeps end at least minDur after start.
func ClampEnd(start, end time.Time, minDur time.Duration) time.Time {
	if floor := start.Add(minDur); !end.After(floor) {
		return floor
	}
	return end
}
