package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Entry is the reconciled view of one PID file: the persisted meta plus the
// liveness verdict against the OS process table.
type Entry struct {
	Meta  Meta
	PID   int
	Alive bool
}

// ReconciliationError reports a PID file that no longer matches a live
// process. The stale file has already been removed when this is returned.
type ReconciliationError struct {
	Name string
	PID  int
	Err  error
}

func (e *ReconciliationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("reconcile %s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("reconcile %s: pid %d no longer running, removed stale pid file", e.Name, e.PID)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

// Reconcile reads every PID file under dir, checks each recorded PID against
// the OS process table, removes files for processes that are gone (or whose
// PID has been reused by an unrelated process), and returns the surviving
// entries sorted by name. Stale and unreadable files are reported as
// ReconciliationError values; they never abort the pass.
func Reconcile(dir string) ([]Entry, []error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.pid"))
	if err != nil {
		return nil, []error{err}
	}
	var entries []Entry
	var errs []error
	for _, path := range matches {
		name := strings.TrimSuffix(filepath.Base(path), ".pid")
		pid, meta, err := ReadPIDFile(path)
		if err != nil {
			_ = os.Remove(path)
			errs = append(errs, &ReconciliationError{Name: name, Err: err})
			continue
		}
		alive := Alive(pid)
		if alive && meta.StartUnix > 0 {
			if cur := ProcStartUnix(pid); cur > 0 && cur != meta.StartUnix {
				// PID reused by an unrelated process.
				alive = false
			}
		}
		if !alive {
			_ = os.Remove(path)
			errs = append(errs, &ReconciliationError{Name: name, PID: pid})
			continue
		}
		entries = append(entries, Entry{Meta: meta, PID: pid, Alive: true})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Meta.Name < entries[j].Meta.Name })
	return entries, errs
}
