package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeTarget struct {
	name string
	url  string

	mu    sync.Mutex
	alive bool
	recs  []Record
}

func (f *fakeTarget) Name() string     { return f.name }
func (f *fakeTarget) ProbeURL() string { return f.url }

func (f *fakeTarget) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeTarget) setAlive(v bool) {
	f.mu.Lock()
	f.alive = v
	f.mu.Unlock()
}

func (f *fakeTarget) Observe(r Record) {
	f.mu.Lock()
	f.recs = append(f.recs, r)
	f.mu.Unlock()
}

func (f *fakeTarget) last() (Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.recs) == 0 {
		return Record{}, false
	}
	return f.recs[len(f.recs)-1], true
}

func (f *fakeTarget) states() []State {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]State, 0, len(f.recs))
	for _, r := range f.recs {
		out = append(out, r.State)
	}
	return out
}

type scriptedProber struct {
	mu      sync.Mutex
	results []error // consumed in order; last entry repeats
}

func (p *scriptedProber) Probe(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.results) == 0 {
		return nil
	}
	err := p.results[0]
	if len(p.results) > 1 {
		p.results = p.results[1:]
	}
	return err
}

func waitForState(t *testing.T, ft *fakeTarget, want State) Record {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if rec, ok := ft.last(); ok && rec.State == want {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	rec, _ := ft.last()
	t.Fatalf("state never reached %s (last %s)", want, rec.State)
	return Record{}
}

func TestMonitorStartingUntilProbeSucceeds(t *testing.T) {
	ft := &fakeTarget{name: "ui", url: "http://127.0.0.1:1/ready", alive: true}
	probeErr := errors.New("not yet")
	p := &scriptedProber{results: []error{probeErr, probeErr, nil}}
	m := NewMonitor(Options{Interval: 10 * time.Millisecond, FailureThreshold: 5}, p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Watch(ctx, ft)

	waitForState(t, ft, StateHealthy)
	for _, s := range ft.states() {
		if s != StateStarting && s != StateHealthy {
			t.Fatalf("unexpected state %s before first success", s)
		}
	}
	cancel()
	m.Wait()
}

func TestMonitorUnhealthyAfterThreshold(t *testing.T) {
	ft := &fakeTarget{name: "agent", url: "http://127.0.0.1:1/ready", alive: true}
	p := &scriptedProber{results: []error{nil, errors.New("boom")}}
	m := NewMonitor(Options{Interval: 10 * time.Millisecond, FailureThreshold: 3}, p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Watch(ctx, ft)

	waitForState(t, ft, StateHealthy)
	rec := waitForState(t, ft, StateUnhealthy)
	if rec.Detail == "" {
		t.Fatalf("unhealthy record missing detail")
	}

	// The intermediate failures must read degraded, not unhealthy.
	sawDegraded := false
	for _, s := range ft.states() {
		if s == StateDegraded {
			sawDegraded = true
		}
	}
	if !sawDegraded {
		t.Fatalf("expected degraded states before unhealthy, got %v", ft.states())
	}
	cancel()
	m.Wait()
}

func TestMonitorRecoveryResetsFailureCount(t *testing.T) {
	ft := &fakeTarget{name: "agent", url: "http://127.0.0.1:1/ready", alive: true}
	boom := errors.New("boom")
	// Two failures, a success, then two more failures: threshold 3 never trips.
	p := &scriptedProber{results: []error{nil, boom, boom, nil, boom, boom, nil}}
	m := NewMonitor(Options{Interval: 10 * time.Millisecond, FailureThreshold: 3}, p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Watch(ctx, ft)

	time.Sleep(200 * time.Millisecond)
	for _, s := range ft.states() {
		if s == StateUnhealthy {
			t.Fatalf("failure count not reset by recovery: %v", ft.states())
		}
	}
	cancel()
	m.Wait()
}

func TestMonitorStoppedAfterHealthyExit(t *testing.T) {
	ft := &fakeTarget{name: "telemetry", url: "", alive: true}
	m := NewMonitor(Options{Interval: 10 * time.Millisecond}, &scriptedProber{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Watch(ctx, ft)

	waitForState(t, ft, StateHealthy)
	ft.setAlive(false)
	waitForState(t, ft, StateStopped)
	m.Wait() // poller must exit on its own after a terminal state
}

func TestMonitorFailedWhenNeverHealthy(t *testing.T) {
	ft := &fakeTarget{name: "ui", url: "http://127.0.0.1:1/ready", alive: false}
	m := NewMonitor(Options{Interval: 10 * time.Millisecond}, &scriptedProber{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Watch(ctx, ft)

	rec := waitForState(t, ft, StateFailed)
	if rec.Detail == "" {
		t.Fatalf("failed record missing detail")
	}
	m.Wait()
}

func TestMonitorRewatchSurvivesOldPollerExit(t *testing.T) {
	old := &fakeTarget{name: "agent", url: "", alive: true}
	repl := &fakeTarget{name: "agent", url: "", alive: true}
	m := NewMonitor(Options{Interval: 10 * time.Millisecond}, &scriptedProber{}, nil)

	m.Watch(context.Background(), old)
	waitForState(t, old, StateHealthy)

	// Replacing cancels the old poller; its cleanup must not evict the
	// replacement's registration.
	m.Watch(context.Background(), repl)
	waitForState(t, repl, StateHealthy)
	time.Sleep(50 * time.Millisecond) // let the replaced poller run its exit path

	m.Unwatch("agent")
	done := make(chan struct{})
	go func() { m.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("replacement poller not stopped by Unwatch")
	}
}

func TestMonitorUnwatchStopsPolling(t *testing.T) {
	ft := &fakeTarget{name: "agent", url: "", alive: true}
	m := NewMonitor(Options{Interval: 10 * time.Millisecond}, &scriptedProber{}, nil)

	m.Watch(context.Background(), ft)
	waitForState(t, ft, StateHealthy)
	m.Unwatch("agent")
	m.Wait()

	n := len(ft.states())
	time.Sleep(50 * time.Millisecond)
	if got := len(ft.states()); got != n {
		t.Fatalf("observations continued after Unwatch: %d -> %d", n, got)
	}
}
