package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/stackd/internal/config"
	"github.com/loykin/stackd/internal/descriptor"
	"github.com/loykin/stackd/internal/health"
	"github.com/loykin/stackd/internal/state"
	"github.com/loykin/stackd/internal/status"
	"github.com/loykin/stackd/internal/supervisor"
)

// StopOutcome is the per-unit result of a stop run.
type StopOutcome struct {
	Name      string
	PID       int
	Stopped   bool
	Escalated bool
	Err       error
}

// StopResult aggregates one stop run. OK is true when every live unit
// reached stopped; SIGKILL escalations alone do not fail the run.
type StopResult struct {
	Outcomes []StopOutcome
	Warnings []string
}

func (r StopResult) OK() bool {
	for _, o := range r.Outcomes {
		if !o.Stopped {
			return false
		}
	}
	return true
}

// Summary renders the per-unit outcomes as a snapshot for display.
func (r StopResult) Summary() status.Snapshot {
	snap := status.Snapshot{TakenAt: time.Now(), Warnings: r.Warnings}
	for _, o := range r.Outcomes {
		u := status.Unit{Name: o.Name, PID: o.PID, State: health.StateStopped}
		if !o.Stopped {
			u.State = health.StateUnhealthy
			if o.Err != nil {
				u.Detail = o.Err.Error()
			}
		} else if o.Escalated {
			u.Detail = "required SIGKILL"
		}
		snap.Units = append(snap.Units, u)
	}
	return snap
}

// Stop terminates every unit found via reconciled PID files, in reverse
// startup order (ui first, telemetry last). Units inside one group stop
// concurrently, each bounded by the configured per-unit timeout, so a run
// over N units completes within N x timeout in the worst case and typically
// far sooner. It relies only on PID files; no in-memory supervisor state is
// needed.
func Stop(ctx context.Context, cfg config.Config, log *slog.Logger) StopResult {
	if log == nil {
		log = slog.Default()
	}
	var res StopResult
	entries, rerrs := state.Reconcile(cfg.PIDDir)
	for _, re := range rerrs {
		res.Warnings = append(res.Warnings, re.Error())
	}
	if len(entries) == 0 {
		log.Info("no running units found", "pid_dir", cfg.PIDDir)
		return res
	}

	byGroup := make(map[descriptor.Group][]state.Entry)
	for _, e := range entries {
		byGroup[e.Meta.Group] = append(byGroup[e.Meta.Group], e)
	}

	var mu sync.Mutex
	for _, g := range groupOrderDescending(byGroup) {
		if ctx.Err() != nil {
			res.Warnings = append(res.Warnings, "stop interrupted")
			break
		}
		var wg sync.WaitGroup
		for _, e := range byGroup[g] {
			wg.Add(1)
			go func(e state.Entry) {
				defer wg.Done()
				out := stopEntry(cfg, e, log)
				mu.Lock()
				res.Outcomes = append(res.Outcomes, out)
				mu.Unlock()
			}(e)
		}
		wg.Wait()
	}
	return res
}

func stopEntry(cfg config.Config, e state.Entry, log *slog.Logger) StopOutcome {
	out := StopOutcome{Name: e.Meta.Name, PID: e.PID}
	log.Info("stopping unit", "unit", e.Meta.Name, "pid", e.PID)
	err := supervisor.TerminatePID(e.PID, cfg.Timeouts.UnitStop, log)
	var sdt *supervisor.ShutdownTimeoutError
	switch {
	case err == nil:
		out.Stopped = true
	case errors.As(err, &sdt):
		out.Stopped = true
		out.Escalated = true
	default:
		out.Err = fmt.Errorf("stop %s: %w", e.Meta.Name, err)
		return out
	}
	state.RemovePIDFile(cfg.PIDDir, e.Meta.Name)
	return out
}
