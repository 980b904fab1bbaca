// Package history persists publish outcomes and sweep summaries to SQLite.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Event records one pipeline outcome for one app.
type Event struct {
	ID         int64
	App        string
	Outcome    string // updated, added, skipped, failed
	OldVersion string
	NewVersion string
	Detail     string // skip reason or error text
	Trigger    string // sweep, wizard, manual
	CreatedAt  time.Time
}

// Sweep summarizes one scheduler pass.
type Sweep struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time
	Checked    int
	Updated    int
	Failed     int
}

// Store persists events and sweeps.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the SQLite database at the given path.
func NewStore(dbPath string) (*Store, error) {
	// Pragmas go in the DSN so every pooled connection gets them; a PRAGMA
	// run via db.Exec applies to one connection only.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	// SQLite allows one writer; keep the pool small so goroutines queue at
	// the Go level instead of fighting over the file lock.
	db.SetMaxOpenConns(4)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrating history database: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			app         TEXT NOT NULL,
			outcome     TEXT NOT NULL,
			old_version TEXT NOT NULL DEFAULT '',
			new_version TEXT NOT NULL DEFAULT '',
			detail      TEXT NOT NULL DEFAULT '',
			trigger_by  TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_events_app ON events(app);

		CREATE TABLE IF NOT EXISTS sweeps (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at  TEXT NOT NULL,
			finished_at TEXT NOT NULL DEFAULT '',
			checked     INTEGER NOT NULL DEFAULT 0,
			updated     INTEGER NOT NULL DEFAULT 0,
			failed      INTEGER NOT NULL DEFAULT 0
		);
	`)
	return err
}

// RecordEvent inserts a publish outcome.
func (s *Store) RecordEvent(e *Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(`INSERT INTO events (app, outcome, old_version, new_version, detail, trigger_by, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.App, e.Outcome, e.OldVersion, e.NewVersion, e.Detail, e.Trigger,
		e.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return err
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

// ListEvents returns the most recent events, newest first.
func (s *Store) ListEvents(limit int) ([]*Event, error) {
	rows, err := s.db.Query(`SELECT id, app, outcome, old_version, new_version, detail, trigger_by, created_at FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var createdAt string
		if err := rows.Scan(&e.ID, &e.App, &e.Outcome, &e.OldVersion, &e.NewVersion, &e.Detail, &e.Trigger, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// EventsForApp returns the most recent events for one app, newest first.
func (s *Store) EventsForApp(app string, limit int) ([]*Event, error) {
	rows, err := s.db.Query(`SELECT id, app, outcome, old_version, new_version, detail, trigger_by, created_at FROM events WHERE app=? ORDER BY id DESC LIMIT ?`, app, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var createdAt string
		if err := rows.Scan(&e.ID, &e.App, &e.Outcome, &e.OldVersion, &e.NewVersion, &e.Detail, &e.Trigger, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// RecordSweep inserts a completed sweep summary.
func (s *Store) RecordSweep(sw *Sweep) error {
	res, err := s.db.Exec(`INSERT INTO sweeps (started_at, finished_at, checked, updated, failed) VALUES (?, ?, ?, ?, ?)`,
		sw.StartedAt.Format(time.RFC3339), sw.FinishedAt.Format(time.RFC3339),
		sw.Checked, sw.Updated, sw.Failed,
	)
	if err != nil {
		return err
	}
	sw.ID, _ = res.LastInsertId()
	return nil
}

// LastSweep returns the most recent sweep summary, or nil if none recorded.
func (s *Store) LastSweep() (*Sweep, error) {
	row := s.db.QueryRow(`SELECT id, started_at, finished_at, checked, updated, failed FROM sweeps ORDER BY id DESC LIMIT 1`)
	var sw Sweep
	var started, finished string
	err := row.Scan(&sw.ID, &started, &finished, &sw.Checked, &sw.Updated, &sw.Failed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sw.StartedAt, _ = time.Parse(time.RFC3339, started)
	sw.FinishedAt, _ = time.Parse(time.RFC3339, finished)
	return &sw, nil
}
