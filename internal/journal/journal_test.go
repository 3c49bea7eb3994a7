package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestJournalSpawnExitRoundtrip(t *testing.T) {
	ctx := context.Background()
	j, err := Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = j.Close() }()

	started := time.Now()
	if err := j.RecordSpawn(ctx, "agent", 4242, started); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := j.RecordExit(ctx, "agent", 4242, started, errors.New("exit status 1")); err != nil {
		t.Fatalf("exit: %v", err)
	}

	events, err := j.EventsFor(ctx, "agent")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events=%d, want 2", len(events))
	}
	if events[0].Event != "spawn" || events[1].Event != "exit" {
		t.Fatalf("order: %s then %s", events[0].Event, events[1].Event)
	}
	if events[0].PID != 4242 {
		t.Fatalf("pid=%d", events[0].PID)
	}
	if !events[1].ExitErr.Valid || events[1].ExitErr.String != "exit status 1" {
		t.Fatalf("exit_err=%v", events[1].ExitErr)
	}
}

func TestJournalCleanExitHasNullError(t *testing.T) {
	ctx := context.Background()
	j, err := Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = j.Close() }()

	started := time.Now()
	if err := j.RecordSpawn(ctx, "ui", 99, started); err != nil {
		t.Fatal(err)
	}
	if err := j.RecordExit(ctx, "ui", 99, started, nil); err != nil {
		t.Fatal(err)
	}
	events, err := j.EventsFor(ctx, "ui")
	if err != nil {
		t.Fatal(err)
	}
	if events[1].ExitErr.Valid {
		t.Fatalf("clean exit should record NULL, got %q", events[1].ExitErr.String)
	}
}

func TestJournalPersistsAcrossOpens(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := j.RecordSpawn(ctx, "telemetry", 7, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	j2, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = j2.Close() }()
	events, err := j2.EventsFor(ctx, "telemetry")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Event != "spawn" {
		t.Fatalf("events after reopen: %+v", events)
	}
}

func TestJournalEmptyPath(t *testing.T) {
	if _, err := Open(context.Background(), "  "); err == nil {
		t.Fatalf("empty path must fail")
	}
}
