package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Lock is an advisory single-instance guard: a file created with O_EXCL
// containing the holder's PID. A lock whose holder is no longer running is
// stale and reclaimed. This is per-host coordination only; no distributed
// locking is attempted.
type Lock struct {
	path string
}

// ErrLocked is returned by Acquire when another live supervisor holds the lock.
type ErrLocked struct {
	Path string
	PID  int
}

func (e *ErrLocked) Error() string {
	return fmt.Sprintf("another instance (pid %d) holds %s", e.PID, e.Path)
}

// AcquireLock takes the advisory lock at path for the current process.
func AcquireLock(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	for range 2 {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("write lock file: %w", werr)
			}
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		holder := readLockPID(path)
		if holder > 0 && Alive(holder) {
			return nil, &ErrLocked{Path: path, PID: holder}
		}
		// Holder is gone; remove the stale lock and retry once.
		_ = os.Remove(path)
	}
	return nil, fmt.Errorf("could not acquire lock %s", path)
}

// Release removes the lock file. Safe to call once per acquired lock.
func (l *Lock) Release() {
	if l != nil && l.path != "" {
		_ = os.Remove(l.path)
		l.path = ""
	}
}

func readLockPID(path string) int {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0
	}
	return pid
}
