package controller

import (
	"context"
	"time"

	"github.com/loykin/stackd/internal/config"
	"github.com/loykin/stackd/internal/descriptor"
	"github.com/loykin/stackd/internal/health"
	"github.com/loykin/stackd/internal/state"
	"github.com/loykin/stackd/internal/status"
)

// StatusSnapshot renders the in-memory view of the running stack. The
// embedded HTTP API serves this while start is in the foreground.
func (c *Controller) StatusSnapshot() status.Snapshot {
	snap := status.Snapshot{TakenAt: time.Now()}
	if c.sup == nil {
		return snap
	}
	for _, p := range c.sup.Processes() {
		d := p.Descriptor()
		u := status.Unit{
			Name:  p.Name(),
			Group: d.Group,
			PID:   p.PID(),
			Port:  d.Port,
			State: p.State(),
			Since: p.StartedAt(),
		}
		if rec, ok := p.LastHealth(); ok {
			u.Detail = rec.Detail
		}
		snap.Units = append(snap.Units, u)
	}
	return snap
}

// Query reconstructs a snapshot from PID files alone, for status invocations
// that do not hold the original process's memory. PID files whose process is
// gone are reconciled away and reported as stopped; live entries get a
// single bounded readiness probe to classify them.
func Query(ctx context.Context, cfg config.Config) status.Snapshot {
	snap := status.Snapshot{TakenAt: time.Now()}
	entries, rerrs := state.Reconcile(cfg.PIDDir)
	for _, re := range rerrs {
		snap.Warnings = append(snap.Warnings, re.Error())
		if rcErr, ok := re.(*state.ReconciliationError); ok && rcErr.PID > 0 {
			snap.Units = append(snap.Units, status.Unit{
				Name:   rcErr.Name,
				State:  health.StateStopped,
				Detail: "stale pid file reconciled",
			})
		}
	}
	prober := health.NewHTTPProber(cfg.Health.ProbeTimeout)
	for _, e := range entries {
		u := status.Unit{
			Name:  e.Meta.Name,
			Group: e.Meta.Group,
			PID:   e.PID,
			Port:  e.Meta.Port,
			State: health.StateHealthy,
		}
		if e.Meta.StartUnix > 0 {
			u.Since = time.Unix(e.Meta.StartUnix, 0)
		}
		if e.Meta.Port > 0 {
			d := descriptor.Descriptor{Port: e.Meta.Port, HealthPath: e.Meta.HealthPath}
			pctx, cancel := context.WithTimeout(ctx, cfg.Health.ProbeTimeout)
			err := prober.Probe(pctx, d.ProbeURL())
			cancel()
			if err != nil {
				u.State = health.StateUnhealthy
				u.Detail = err.Error()
			}
		}
		snap.Units = append(snap.Units, u)
	}
	return snap
}
