package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/loykin/stackd/internal/config"
	"github.com/loykin/stackd/internal/descriptor"
	"github.com/loykin/stackd/internal/discovery"
	"github.com/loykin/stackd/internal/health"
	"github.com/loykin/stackd/internal/journal"
	"github.com/loykin/stackd/internal/logger"
	"github.com/loykin/stackd/internal/server"
	"github.com/loykin/stackd/internal/state"
	"github.com/loykin/stackd/internal/supervisor"
)

// Options select behavior for one Start run.
type Options struct {
	SkipUI        bool // --no-ui: leave the ui group unspawned
	SkipTelemetry bool // --no-observability: leave the telemetry group unspawned
}

// Controller coordinates discovery, spawning, health monitoring and
// shutdown for the whole stack.
type Controller struct {
	cfg    config.Config
	opts   Options
	logger *slog.Logger

	sup *supervisor.Supervisor
	mon *health.Monitor
	jnl *journal.Journal

	stopOnce sync.Once
}

func New(cfg config.Config, opts Options, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{cfg: cfg, opts: opts, logger: log}
}

// Start runs the full startup sequence in the foreground and blocks until
// ctx is canceled, then drives the stop sequence exactly once. Returning nil
// means a clean shutdown.
func (c *Controller) Start(ctx context.Context) error {
	lock, err := state.AcquireLock(c.cfg.LockFile)
	if err != nil {
		return err
	}
	defer lock.Release()

	if err := c.cfg.EnsureDirs(); err != nil {
		return err
	}
	// Fresh run: old captured output only confuses diagnosis.
	if err := logger.ClearDir(c.cfg.Log.Dir); err != nil {
		c.logger.Warn("could not clear log dir", "dir", c.cfg.Log.Dir, "error", err)
	}

	if c.cfg.JournalPath != "" {
		j, err := journal.Open(ctx, c.cfg.JournalPath)
		if err != nil {
			c.logger.Warn("journal disabled", "path", c.cfg.JournalPath, "error", err)
		} else {
			c.jnl = j
			defer func() { _ = j.Close() }()
		}
	}

	mergedEnv, err := c.cfg.MergedEnv()
	if err != nil {
		return err
	}
	c.sup = supervisor.New(supervisor.Options{
		PIDDir:  c.cfg.PIDDir,
		Log:     c.cfg.Log,
		BaseEnv: mergedEnv,
		OnExit:  c.onExit,
	}, descriptor.NewStore(), c.logger)
	c.mon = health.NewMonitor(health.Options{
		Interval:         c.cfg.Health.PollInterval,
		ProbeTimeout:     c.cfg.Health.ProbeTimeout,
		FailureThreshold: c.cfg.Health.FailureThreshold,
	}, nil, c.logger)

	descs, derrs := discovery.Scan(c.cfg.UnitsDir)
	for _, de := range derrs {
		c.logger.Warn("discovery skipped candidate", "error", de)
	}
	descs = c.filterGroups(descs)
	if len(descs) == 0 {
		return fmt.Errorf("no runnable units discovered under %s", c.cfg.UnitsDir)
	}

	spawned := c.startGroups(ctx, descs)
	if spawned == 0 {
		return fmt.Errorf("no unit could be spawned")
	}

	if w, err := discovery.NewWatcher(c.cfg.UnitsDir); err != nil {
		c.logger.Warn("unit directory watch disabled", "error", err)
	} else {
		defer func() { _ = w.Close() }()
		go w.Run(ctx)
		go c.watchUnits(ctx, w)
	}

	var srv *http.Server
	if c.cfg.HTTPAddr != "" {
		srv = server.New(c.cfg.HTTPAddr, c)
		c.logger.Info("status API listening", "addr", c.cfg.HTTPAddr)
	}

	c.logger.Info("stack running", "units", spawned)
	<-ctx.Done()

	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(sctx)
		cancel()
	}
	c.Shutdown()
	return nil
}

// Shutdown drives the in-memory stop sequence. Guarded so a second signal
// during shutdown never re-enters; extra calls return after the first run
// has been started.
func (c *Controller) Shutdown() {
	c.stopOnce.Do(func() {
		c.logger.Info("shutting down stack")
		c.stopSpawned()
		c.mon.Wait()
		c.logger.Info("stack stopped")
	})
}

// startGroups spawns descriptors in ascending group priority. A later group
// never starts before the previous group's units have left starting or the
// bounded startup timeout has elapsed; the timeout is reported, not fatal.
func (c *Controller) startGroups(ctx context.Context, descs []descriptor.Descriptor) int {
	spawned := 0
	for _, group := range groupsAscending(descs) {
		var members []*supervisor.ManagedProcess
		for _, d := range group.descs {
			if ctx.Err() != nil {
				return spawned
			}
			p, err := c.sup.Spawn(d)
			if err != nil {
				c.logger.Error("unit failed to spawn", "unit", d.Name, "error", err)
				continue
			}
			spawned++
			if c.jnl != nil {
				_ = c.jnl.RecordSpawn(ctx, p.Name(), p.PID(), p.StartedAt())
			}
			c.mon.Watch(ctx, p)
			members = append(members, p)
		}
		if len(members) > 0 {
			c.awaitGroupReady(ctx, group.name, members)
		}
	}
	return spawned
}

// awaitGroupReady blocks until every member has left starting or the group
// startup timeout elapses. Startup is partial-degradation tolerant: a
// timeout is logged and later groups proceed anyway.
func (c *Controller) awaitGroupReady(ctx context.Context, group descriptor.Group, members []*supervisor.ManagedProcess) {
	deadline := time.Now().Add(c.cfg.Timeouts.GroupStartup)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return
		}
		pending := 0
		for _, p := range members {
			if p.State() == health.StateStarting {
				pending++
			}
		}
		if pending == 0 {
			c.logger.Info("group ready", "group", string(group))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
	var waiting []string
	for _, p := range members {
		if p.State() == health.StateStarting {
			waiting = append(waiting, p.Name())
		}
	}
	c.logger.Warn("group startup timed out, continuing",
		"group", string(group), "still_starting", waiting, "timeout", c.cfg.Timeouts.GroupStartup)
}

// watchUnits rescans the unit directory whenever the watcher signals and
// spawns units that appeared since the last scan. Edits to already-running
// units are reported but take effect on the next start.
func (c *Controller) watchUnits(ctx context.Context, w *discovery.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.Changes():
		}
		descs, derrs := discovery.Scan(c.cfg.UnitsDir)
		for _, de := range derrs {
			c.logger.Warn("discovery skipped candidate", "error", de)
		}
		for _, d := range c.filterGroups(descs) {
			if ctx.Err() != nil {
				return
			}
			if _, known := c.sup.Get(d.Name); known {
				continue
			}
			c.logger.Info("new unit discovered", "unit", d.Name, "group", string(d.Group))
			p, err := c.sup.Spawn(d)
			if err != nil {
				c.logger.Error("unit failed to spawn", "unit", d.Name, "error", err)
				continue
			}
			if c.jnl != nil {
				_ = c.jnl.RecordSpawn(ctx, p.Name(), p.PID(), p.StartedAt())
			}
			c.mon.Watch(ctx, p)
		}
	}
}

// stopSpawned terminates the in-memory managed processes in descending
// group priority; units inside one group stop concurrently, each bounded by
// the per-unit timeout.
func (c *Controller) stopSpawned() {
	procs := c.sup.Processes()
	byGroup := make(map[descriptor.Group][]*supervisor.ManagedProcess)
	for _, p := range procs {
		g := p.Descriptor().Group
		byGroup[g] = append(byGroup[g], p)
	}
	for _, g := range groupOrderDescending(byGroup) {
		var wg sync.WaitGroup
		for _, p := range byGroup[g] {
			c.mon.Unwatch(p.Name())
			wg.Add(1)
			go func(p *supervisor.ManagedProcess) {
				defer wg.Done()
				err := c.sup.Terminate(p, c.cfg.Timeouts.UnitStop)
				var sdt *supervisor.ShutdownTimeoutError
				switch {
				case err == nil:
					c.logger.Info("unit stopped", "unit", p.Name())
				case errors.As(err, &sdt):
					c.logger.Warn("unit stopped after escalation", "unit", p.Name())
				default:
					c.logger.Error("unit did not stop", "unit", p.Name(), "error", err)
				}
			}(p)
		}
		wg.Wait()
	}
}

func (c *Controller) onExit(p *supervisor.ManagedProcess, exitErr error) {
	if c.jnl != nil {
		_ = c.jnl.RecordExit(context.Background(), p.Name(), p.PID(), p.StartedAt(), exitErr)
	}
}

// filterGroups drops groups excluded by the run options.
func (c *Controller) filterGroups(descs []descriptor.Descriptor) []descriptor.Descriptor {
	out := descs[:0]
	for _, d := range descs {
		if c.opts.SkipUI && d.Group == descriptor.GroupUI {
			c.logger.Info("skipping ui unit", "unit", d.Name)
			continue
		}
		if c.opts.SkipTelemetry && d.Group == descriptor.GroupTelemetry {
			c.logger.Info("skipping telemetry unit", "unit", d.Name)
			continue
		}
		out = append(out, d)
	}
	return out
}

type groupBatch struct {
	name  descriptor.Group
	descs []descriptor.Descriptor
}

// groupsAscending partitions name-sorted descriptors into batches ordered by
// group priority; member order inside a batch stays name-sorted.
func groupsAscending(descs []descriptor.Descriptor) []groupBatch {
	byGroup := make(map[descriptor.Group][]descriptor.Descriptor)
	for _, d := range descs {
		byGroup[d.Group] = append(byGroup[d.Group], d)
	}
	groups := make([]descriptor.Group, 0, len(byGroup))
	for g := range byGroup {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Priority() < groups[j].Priority() })
	out := make([]groupBatch, 0, len(groups))
	for _, g := range groups {
		out = append(out, groupBatch{name: g, descs: byGroup[g]})
	}
	return out
}

func groupOrderDescending[T any](byGroup map[descriptor.Group][]T) []descriptor.Group {
	groups := make([]descriptor.Group, 0, len(byGroup))
	for g := range byGroup {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Priority() > groups[j].Priority() })
	return groups
}
