package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/stackd/internal/metrics"
)

// Target is the monitor's view of one managed unit. internal/supervisor's
// ManagedProcess satisfies it.
type Target interface {
	Name() string
	// Alive reports whether the child is still present in the OS process table.
	Alive() bool
	// ProbeURL is the readiness endpoint, or "" when the unit declares none.
	ProbeURL() string
	// Observe receives every classification the monitor produces.
	Observe(Record)
}

// Options tune a Monitor. Zero values fall back to the defaults.
type Options struct {
	Interval         time.Duration // poll interval per unit
	ProbeTimeout     time.Duration // per-probe deadline
	FailureThreshold int           // consecutive probe failures before unhealthy
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 2 * time.Second
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 2 * time.Second
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 3
	}
	return o
}

// Monitor polls each watched unit on a fixed interval. Every unit gets its
// own goroutine so a hung probe on one never delays observation of another.
// The monitor classifies and reports; it performs no restarts.
type Monitor struct {
	opts   Options
	prober Prober
	logger *slog.Logger

	mu      sync.Mutex
	pollers map[string]*poller
	wg      sync.WaitGroup
}

// poller identifies one Watch registration, so a replaced poller's cleanup
// never removes its successor's entry.
type poller struct {
	cancel context.CancelFunc
}

func NewMonitor(opts Options, prober Prober, logger *slog.Logger) *Monitor {
	opts = opts.withDefaults()
	if prober == nil {
		prober = NewHTTPProber(opts.ProbeTimeout)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		opts:    opts,
		prober:  prober,
		logger:  logger,
		pollers: make(map[string]*poller),
	}
}

// Watch begins polling t until ctx is done, Unwatch is called, or the unit
// reaches a terminal state. Watching an already watched name replaces the
// previous poller.
func (m *Monitor) Watch(ctx context.Context, t Target) {
	cctx, cancel := context.WithCancel(ctx)
	p := &poller{cancel: cancel}
	m.mu.Lock()
	if prev, ok := m.pollers[t.Name()]; ok {
		prev.cancel()
	}
	m.pollers[t.Name()] = p
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.forget(t.Name(), p)
		m.run(cctx, t)
	}()
}

// Unwatch stops polling name, if watched.
func (m *Monitor) Unwatch(name string) {
	m.mu.Lock()
	p, ok := m.pollers[name]
	delete(m.pollers, name)
	m.mu.Unlock()
	if ok {
		p.cancel()
	}
}

// Wait blocks until every poller goroutine has exited.
func (m *Monitor) Wait() { m.wg.Wait() }

// forget removes p's own registration; a successor registered under the same
// name stays.
func (m *Monitor) forget(name string, p *poller) {
	p.cancel()
	m.mu.Lock()
	if m.pollers[name] == p {
		delete(m.pollers, name)
	}
	m.mu.Unlock()
}

func (m *Monitor) run(ctx context.Context, t Target) {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	var (
		consecutiveFails int
		everHealthy      bool
	)
	for {
		rec := m.classify(ctx, t, &consecutiveFails, &everHealthy)
		t.Observe(rec)
		metrics.SetUnitState(t.Name(), string(rec.State))
		if rec.State.Terminal() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// classify performs the liveness check, then the readiness probe, and maps
// the outcome onto a State per the supervision policy.
func (m *Monitor) classify(ctx context.Context, t Target, fails *int, everHealthy *bool) Record {
	now := time.Now()
	if !t.Alive() {
		if *everHealthy {
			return Record{State: StateStopped, Time: now, Detail: "process exited"}
		}
		return Record{State: StateFailed, Time: now, Detail: "process exited before becoming healthy"}
	}

	url := t.ProbeURL()
	if url == "" {
		// No declared endpoint: liveness is all we have.
		*everHealthy = true
		*fails = 0
		return Record{State: StateHealthy, Time: now, Detail: "alive (no readiness endpoint)"}
	}

	pctx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	start := time.Now()
	err := m.prober.Probe(pctx, url)
	cancel()
	metrics.ObserveProbe(t.Name(), time.Since(start).Seconds(), err == nil)

	if err == nil {
		*fails = 0
		*everHealthy = true
		return Record{State: StateHealthy, Time: now}
	}

	*fails++
	m.logger.Debug("readiness probe failed",
		"unit", t.Name(), "url", url, "consecutive", *fails, "error", err)
	if *fails >= m.opts.FailureThreshold {
		return Record{State: StateUnhealthy, Time: now, Detail: err.Error()}
	}
	if *everHealthy {
		return Record{State: StateDegraded, Time: now, Detail: err.Error()}
	}
	return Record{State: StateStarting, Time: now, Detail: err.Error()}
}
