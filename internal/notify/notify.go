// Package notify reports the outcome of drag commits to the user.
package notify

import (
	"context"
	"errors"
	"time"

	appLog "calgrid/internal/log"
)

// Level classifies a notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is one user-facing message.
type Notification struct {
	Level    Level     `json:"level"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	EventID  string    `json:"eventId,omitempty"`
	CommitID string    `json:"commitId,omitempty"`
	At       time.Time `json:"at"`
}

// Notifier delivers notifications. Implementations must be safe for
// concurrent use; drag commits resolve on their own goroutines.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notification) error

func (f Func) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// Log writes notifications to the application log.
type Log struct{}

func (Log) Notify(_ context.Context, n Notification) error {
	kv := []any{"title", n.Title, "message", n.Message, "event_id", n.EventID, "commit_id", n.CommitID}
	if n.Level == LevelError {
		appLog.Error("notification", errors.New(n.Message), kv...)
		return nil
	}
	appLog.Info("notification", kv...)
	return nil
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m {
		if nt == nil {
			continue
		}
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
