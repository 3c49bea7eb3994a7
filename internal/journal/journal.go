package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Journal records unit lifecycle events (spawn and exit) in a local SQLite
// database (modernc.org/sqlite, CGO-free). It is an operator audit trail,
// not a metrics store; nothing reads it back at runtime.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal at path and ensures the schema.
// Use ":memory:" for tests.
func Open(ctx context.Context, path string) (*Journal, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty journal path")
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = db.Exec("PRAGMA busy_timeout=3000;")
	j := &Journal{db: db}
	if err := j.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS unit_events(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			pid INTEGER NOT NULL,
			event TEXT NOT NULL,
			occurred_at TIMESTAMP NOT NULL,
			exit_err TEXT NULL,
			uniq TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_unit_events_name ON unit_events(name);`,
		`CREATE INDEX IF NOT EXISTS idx_unit_events_uniq ON unit_events(uniq);`,
	}
	for _, q := range stmts {
		if _, err := j.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) Close() error { return j.db.Close() }

// uniqueKey ties spawn and exit rows of one run together.
func uniqueKey(pid int, startedAt time.Time) string {
	return fmt.Sprintf("%d-%d", pid, startedAt.UnixNano())
}

// RecordSpawn appends a spawn event for one unit run.
func (j *Journal) RecordSpawn(ctx context.Context, name string, pid int, startedAt time.Time) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO unit_events(name, pid, event, occurred_at, exit_err, uniq)
		VALUES(?, ?, 'spawn', ?, NULL, ?);`,
		name, pid, startedAt.UTC(), uniqueKey(pid, startedAt))
	return err
}

// RecordExit appends the exit event for a run previously recorded by
// RecordSpawn.
func (j *Journal) RecordExit(ctx context.Context, name string, pid int, startedAt time.Time, exitErr error) error {
	var errStr sql.NullString
	if exitErr != nil {
		errStr = sql.NullString{String: exitErr.Error(), Valid: true}
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO unit_events(name, pid, event, occurred_at, exit_err, uniq)
		VALUES(?, ?, 'exit', ?, ?, ?);`,
		name, pid, time.Now().UTC(), errStr, uniqueKey(pid, startedAt))
	return err
}

// Event is one journal row, for inspection and tests.
type Event struct {
	Name       string
	PID        int
	Event      string
	OccurredAt time.Time
	ExitErr    sql.NullString
}

// EventsFor returns the recorded events for name, oldest first.
func (j *Journal) EventsFor(ctx context.Context, name string) ([]Event, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT name, pid, event, occurred_at, exit_err
		FROM unit_events WHERE name = ? ORDER BY id ASC;`, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Name, &e.PID, &e.Event, &e.OccurredAt, &e.ExitErr); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
