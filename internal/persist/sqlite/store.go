// Package sqlite is a persist.Store backed by a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	appLog "calgrid/internal/log"
	"calgrid/internal/model"
	"calgrid/internal/persist"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS events (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	title       TEXT NOT NULL DEFAULT '',
	calendar_id TEXT NOT NULL DEFAULT '',
	start_ms    INTEGER NOT NULL,
	end_ms      INTEGER NOT NULL,
	all_day     INTEGER NOT NULL DEFAULT 0,
	rrule       TEXT NOT NULL DEFAULT '',
	guests      TEXT NOT NULL DEFAULT '[]',
	color       TEXT NOT NULL DEFAULT '',
	time_zone   TEXT NOT NULL DEFAULT '',
	CHECK (end_ms > start_ms)
);`

// Store implements persist.Store. Times are stored as unix milliseconds and
// read back in the event's TimeZone (UTC when unset, matching the wire form).
type Store struct {
	db *sql.DB
}

var _ persist.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: SQLite serializes writers anyway and :memory: is
	// per-connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	appLog.Debug("sqlite store opened", "path", path)
	return &Store{db: db}, nil
}

func (s *Store) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, calendar_id, start_ms, end_ms, all_day, rrule, guests, color, time_zone
		FROM events ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var (
			ev             model.Event
			startMs, endMs int64
			guests         string
		)
		if err := rows.Scan(&ev.ID, &ev.Title, &ev.CalendarID, &startMs, &endMs,
			&ev.AllDay, &ev.RecurrenceRule, &guests, &ev.Color, &ev.TimeZone); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		loc := time.UTC
		if ev.TimeZone != "" {
			if l, err := time.LoadLocation(ev.TimeZone); err == nil {
				loc = l
			} else {
				appLog.Info("sqlite: unknown stored time zone; using UTC", "event_id", ev.ID, "tz", ev.TimeZone)
			}
		}
		ev.Start = time.UnixMilli(startMs).In(loc)
		ev.End = time.UnixMilli(endMs).In(loc)

		if err := json.Unmarshal([]byte(guests), &ev.Guests); err != nil {
			return nil, fmt.Errorf("decode guests of %s: %w", ev.ID, err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) UpsertEvents(ctx context.Context, events []model.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (id, title, calendar_id, start_ms, end_ms, all_day, rrule, guests, color, time_zone)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			calendar_id = excluded.calendar_id,
			start_ms = excluded.start_ms,
			end_ms = excluded.end_ms,
			all_day = excluded.all_day,
			rrule = excluded.rrule,
			guests = excluded.guests,
			color = excluded.color,
			time_zone = excluded.time_zone`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		guests, err := json.Marshal(ev.Guests)
		if err != nil {
			return fmt.Errorf("encode guests of %s: %w", ev.ID, err)
		}
		if ev.Guests == nil {
			guests = []byte("[]")
		}
		if _, err := stmt.ExecContext(ctx, ev.ID, ev.Title, ev.CalendarID,
			ev.Start.UnixMilli(), ev.End.UnixMilli(), ev.AllDay,
			ev.RecurrenceRule, string(guests), ev.Color, ev.TimeZone); err != nil {
			return fmt.Errorf("upsert event %s: %w", ev.ID, err)
		}
	}
	return tx.Commit()
}

// UpdateEvent rewrites the start and end of one event. It returns
// persist.ErrNotFound when no row matches.
func (s *Store) UpdateEvent(ctx context.Context, u model.EventUpdate) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET start_ms = ?, end_ms = ? WHERE id = ?`,
		u.Start.UnixMilli(), u.End.UnixMilli(), u.ID)
	if err != nil {
		return fmt.Errorf("update event %s: %w", u.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update event %s: %w", u.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update event %s: %w", u.ID, persist.ErrNotFound)
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
