package persist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"calgrid/internal/model"
)

type recorder struct {
	mu      sync.Mutex
	results []Result
}

func (r *recorder) done(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recorder) all() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.results...)
}

func update(id string, minute int) model.EventUpdate {
	start := time.Date(2026, 3, 4, 10, minute, 0, 0, time.UTC)
	return model.EventUpdate{ID: id, Start: start, End: start.Add(time.Hour)}
}

func TestCommitter_DeliversResult(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(model.Event{ID: "e1", Start: time.Now(), End: time.Now().Add(time.Hour)})
	c := NewCommitter(store, time.Second)
	rec := &recorder{}

	commitID := c.Submit(update("e1", 30), rec.done)
	c.Submit(update("missing", 0), rec.done)
	c.Wait()

	results := rec.all()
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, res := range results {
		switch res.Update.ID {
		case "e1":
			if res.Err != nil || res.CommitID != commitID {
				t.Fatalf("unexpected e1 result: %+v", res)
			}
		case "missing":
			if !errors.Is(res.Err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", res.Err)
			}
		}
	}

	ev, _ := store.Get("e1")
	if !ev.Start.Equal(update("e1", 30).Start) {
		t.Fatalf("store not updated: %v", ev.Start)
	}
}

func TestCommitter_NewerEditSupersedesInFlight(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{}, 4)
	var mu sync.Mutex
	var calls []model.EventUpdate

	gw := GatewayFunc(func(ctx context.Context, u model.EventUpdate) error {
		mu.Lock()
		calls = append(calls, u)
		first := len(calls) == 1
		mu.Unlock()
		started <- struct{}{}
		if first {
			<-release
		}
		return nil
	})

	c := NewCommitter(gw, time.Second)
	rec := &recorder{}

	c.Submit(update("e1", 0), rec.done)
	<-started
	c.Submit(update("e1", 15), rec.done)
	latest := c.Submit(update("e1", 30), rec.done)
	close(release)
	c.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 {
		t.Fatalf("expected the in-flight and latest writes only, got %d calls", len(calls))
	}
	if !calls[1].Start.Equal(update("e1", 30).Start) {
		t.Fatalf("second write should be the latest edit, got %v", calls[1].Start)
	}

	results := rec.all()
	if len(results) != 1 || results[0].CommitID != latest {
		t.Fatalf("only the latest commit should report, got %+v", results)
	}
}

func TestCommitter_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	gw := GatewayFunc(func(ctx context.Context, u model.EventUpdate) error {
		<-release
		return nil
	})

	c := NewCommitter(gw, 20*time.Millisecond)
	got := make(chan Result, 1)
	c.Submit(update("slow", 0), func(res Result) { got <- res })

	select {
	case res := <-got:
		if !errors.Is(res.Err, ErrTimeout) {
			t.Fatalf("expected ErrTimeout, got %v", res.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout was not reported")
	}

	close(release)
	c.Wait()
}

func TestCommitter_GatewayIgnoringContextReleasesSlot(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)

	var (
		mu    sync.Mutex
		calls int
	)
	gw := GatewayFunc(func(_ context.Context, u model.EventUpdate) error {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			<-release
		}
		return nil
	})

	c := NewCommitter(gw, 20*time.Millisecond)
	got := make(chan Result, 2)
	c.Submit(update("stuck", 0), func(res Result) { got <- res })
	if res := <-got; !errors.Is(res.Err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", res.Err)
	}

	c.Submit(update("stuck", 15), func(res Result) { got <- res })
	select {
	case res := <-got:
		if res.Err != nil || res.Update.Start.Minute() != 15 {
			t.Fatalf("unexpected follow-up result: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("later edit stayed pending behind a gateway that ignores ctx")
	}
	c.Wait()
}
