package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLockExcludesSecondAcquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stackd.lock")
	l1, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer l1.Release()

	_, err = AcquireLock(path)
	var el *ErrLocked
	if !errors.As(err, &el) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if el.PID != os.Getpid() {
		t.Fatalf("lock holder pid = %d, want %d", el.PID, os.Getpid())
	}
}

func TestLockReleaseAllowsReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stackd.lock")
	l1, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	l1.Release()
	l2, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	l2.Release()
}

func TestLockStaleHolderReclaimed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stackd.lock")
	// Fabricate a lock held by a pid that cannot exist.
	if err := os.WriteFile(path, []byte("999999999\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	l, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("stale lock not reclaimed: %v", err)
	}
	l.Release()
}

func TestLockGarbageContentReclaimed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stackd.lock")
	if err := os.WriteFile(path, []byte("garbage"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	l, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("unreadable lock not reclaimed: %v", err)
	}
	l.Release()
}
