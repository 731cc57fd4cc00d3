package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	appLog "calgrid/internal/log"
	"calgrid/internal/model"
)

// DefaultCommitTimeout bounds a single gateway call.
const DefaultCommitTimeout = 10 * time.Second

// Result is delivered once per commit that was not superseded.
type Result struct {
	CommitID string
	Update   model.EventUpdate
	Err      error
}

type job struct {
	commitID string
	update   model.EventUpdate
	done     func(Result)
}

// slot tracks the in-flight write for one event id and at most one newer
// edit waiting behind it.
type slot struct {
	pending *job
}

// Committer serializes gateway writes per event id. While a write for an id
// is in flight, a newer submission replaces any waiting one and runs after
// the in-flight write resolves. Results of superseded writes are dropped.
// Writes for different ids run concurrently.
type Committer struct {
	gw      Gateway
	timeout time.Duration

	mu    sync.Mutex
	slots map[string]*slot
	wg    sync.WaitGroup
}

// NewCommitter returns a Committer calling gw with the given per-call
// timeout (DefaultCommitTimeout when zero).
func NewCommitter(gw Gateway, timeout time.Duration) *Committer {
	if timeout <= 0 {
		timeout = DefaultCommitTimeout
	}
	return &Committer{
		gw:      gw,
		timeout: timeout,
		slots:   make(map[string]*slot),
	}
}

// Submit schedules u and returns its commit id without waiting. done is
// called from a Committer goroutine unless a newer submission for the same
// event id supersedes this one first.
func (c *Committer) Submit(u model.EventUpdate, done func(Result)) string {
	j := &job{commitID: uuid.NewString(), update: u, done: done}

	c.mu.Lock()
	if s, busy := c.slots[u.ID]; busy {
		if s.pending != nil {
			appLog.Debug("commit superseded before start", "event_id", u.ID, "commit_id", s.pending.commitID, "by", j.commitID)
		}
		s.pending = j
		c.mu.Unlock()
		return j.commitID
	}
	c.slots[u.ID] = &slot{}
	c.wg.Add(1)
	c.mu.Unlock()

	go c.run(u.ID, j)
	return j.commitID
}

// Wait blocks until no commit is in flight or pending.
func (c *Committer) Wait() {
	c.wg.Wait()
}

func (c *Committer) run(id string, j *job) {
	defer c.wg.Done()

	for j != nil {
		drain, err := c.call(j)

		if c.superseded(id) {
			appLog.Debug("commit result dropped; newer edit pending", "event_id", id, "commit_id", j.commitID)
		} else if j.done != nil {
			j.done(Result{CommitID: j.commitID, Update: j.update, Err: err})
		}

		// A timed out call still owns the slot until the gateway returns or
		// one more timeout passes, whichever comes first.
		if drain != nil {
			c.awaitDrain(drain, j)
		}
		j = c.next(id)
	}
}

// call runs one gateway write under the commit timeout. When the timeout
// fires first, the returned channel yields once the gateway call returns.
func (c *Committer) call(j *job) (<-chan error, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)

	resCh := make(chan error, 1)
	go func() {
		defer cancel()
		resCh <- c.gw.UpdateEvent(ctx, j.update)
	}()

	select {
	case err := <-resCh:
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %w", ErrTimeout, c.timeout, err)
		}
		if err != nil {
			appLog.Error("commit failed", err, "event_id", j.update.ID, "commit_id", j.commitID)
		}
		return nil, err
	case <-ctx.Done():
		err := fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		appLog.Error("commit timed out", err, "event_id", j.update.ID, "commit_id", j.commitID)
		return resCh, err
	}
}

func (c *Committer) awaitDrain(drain <-chan error, j *job) {
	t := time.NewTimer(c.timeout)
	defer t.Stop()
	select {
	case <-drain:
	case <-t.C:
		appLog.Error("gateway ignored cancellation; releasing event slot", ErrTimeout,
			"event_id", j.update.ID, "commit_id", j.commitID)
	}
}

func (c *Committer) superseded(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.slots[id]
	return s != nil && s.pending != nil
}

func (c *Committer) next(id string) *job {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.slots[id]
	n := s.pending
	s.pending = nil
	if n == nil {
		delete(c.slots, id)
	}
	return n
}
