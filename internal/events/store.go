// Package events keeps an append-only log of render outcomes for operator
// visibility: completed renders, limit violations, rejected input, and
// internal failures.
package events

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of render event.
type Type string

const (
	TypeCompleted Type = "render.completed"
	TypeLimit     Type = "render.limit"
	TypeRejected  Type = "render.rejected"
	TypeFailed    Type = "render.failed"
	TypePurged    Type = "cache.purged"
)

// Event is an immutable log entry.
type Event struct {
	ID        string        `json:"id"`
	Scope     string        `json:"scope"`
	Key       string        `json:"key,omitempty"`
	Type      Type          `json:"type"`
	Detail    string        `json:"detail,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Store is an append-only event log.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id          TEXT PRIMARY KEY,
			scope       TEXT NOT NULL,
			key         TEXT,
			type        TEXT NOT NULL,
			detail      TEXT,
			duration_ms INTEGER NOT NULL,
			timestamp   TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_scope ON events(scope);
		CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
		CREATE INDEX IF NOT EXISTS idx_events_ts ON events(timestamp);
	`)
	return err
}

// Append adds a new event to the log. Entries are never updated or
// deleted afterwards.
func (s *Store) Append(scope, key string, etype Type, detail string, dur time.Duration) (*Event, error) {
	ev := &Event{
		ID:        uuid.New().String(),
		Scope:     scope,
		Key:       key,
		Type:      etype,
		Detail:    detail,
		Duration:  dur,
		Timestamp: time.Now().UTC(),
	}

	_, err := s.db.Exec(`
		INSERT INTO events (id, scope, key, type, detail, duration_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.Scope, ev.Key, string(ev.Type), ev.Detail, ev.Duration.Milliseconds(),
		ev.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return ev, nil
}

// Recent returns the newest events, newest first.
func (s *Store) Recent(limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT id, scope, key, type, detail, duration_ms, timestamp
		FROM events ORDER BY timestamp DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var evs []*Event
	for rows.Next() {
		var ev Event
		var etype, ts string
		var durMS int64
		if err := rows.Scan(&ev.ID, &ev.Scope, &ev.Key, &etype, &ev.Detail, &durMS, &ts); err != nil {
			return nil, err
		}
		ev.Type = Type(etype)
		ev.Duration = time.Duration(durMS) * time.Millisecond
		ev.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		evs = append(evs, &ev)
	}
	return evs, rows.Err()
}
