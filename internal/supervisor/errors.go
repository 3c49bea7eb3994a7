package supervisor

import (
	"errors"
	"fmt"
)

// ErrPortBusy marks a spawn refused because something already accepts
// connections on the unit's declared port. The refusal happens before any
// OS-level spawn, so no ManagedProcess is registered.
var ErrPortBusy = errors.New("declared port already bound")

// ErrAlreadyRunning marks a spawn refused because a live ManagedProcess
// already exists for the descriptor.
var ErrAlreadyRunning = errors.New("unit already running")

// SpawnError wraps any failure to launch a unit. Other units are unaffected;
// the failed unit is reported as failed.
type SpawnError struct {
	Unit string
	Err  error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("spawn %s: %v", e.Unit, e.Err) }
func (e *SpawnError) Unwrap() error { return e.Err }

// ShutdownTimeoutError reports that graceful termination missed its deadline
// and SIGKILL was required. It is a warning: the unit still ends stopped, and
// a stop run that only saw escalations still succeeds.
type ShutdownTimeoutError struct {
	Unit string
	PID  int
}

func (e *ShutdownTimeoutError) Error() string {
	if e.Unit == "" {
		return fmt.Sprintf("pid %d ignored SIGTERM, escalated to SIGKILL", e.PID)
	}
	return fmt.Sprintf("unit %s (pid %d) ignored SIGTERM, escalated to SIGKILL", e.Unit, e.PID)
}
