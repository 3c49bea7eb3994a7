package supervisor

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/stackd/internal/descriptor"
	"github.com/loykin/stackd/internal/health"
	"github.com/loykin/stackd/internal/logger"
	"github.com/loykin/stackd/internal/metrics"
	"github.com/loykin/stackd/internal/state"
)

// Options configure a Supervisor.
type Options struct {
	PIDDir  string
	Log     logger.Config
	BaseEnv []string // environment passed to every child, "K=V" form
	// HealthRing is the number of health samples retained per process.
	HealthRing int
	// OnExit runs after a child has been reaped, from the waiter goroutine.
	OnExit func(p *ManagedProcess, exitErr error)
}

// Supervisor owns child-process lifecycle: spawn, log capture, PID tracking
// and termination. Health classification lives in internal/health; the
// supervisor only mutates the OS process table and the PID/log directories.
type Supervisor struct {
	opts   Options
	store  *descriptor.Store
	logger *slog.Logger

	mu    sync.Mutex
	procs map[string]*ManagedProcess
}

func New(opts Options, store *descriptor.Store, log *slog.Logger) *Supervisor {
	if store == nil {
		store = descriptor.NewStore()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		opts:   opts,
		store:  store,
		logger: log,
		procs:  make(map[string]*ManagedProcess),
	}
}

// Store exposes the descriptor registry backing this supervisor.
func (s *Supervisor) Store() *descriptor.Store { return s.store }

// Get returns the managed process for a unit name.
func (s *Supervisor) Get(name string) (*ManagedProcess, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[name]
	return p, ok
}

// Processes returns every managed process sorted by unit name.
func (s *Supervisor) Processes() []*ManagedProcess {
	s.mu.Lock()
	out := make([]*ManagedProcess, 0, len(s.procs))
	for _, p := range s.procs {
		out = append(out, p)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Spawn launches desc as a managed child. On any failure nothing is
// registered and a *SpawnError is returned; the port-conflict precheck
// happens before the OS-level start.
func (s *Supervisor) Spawn(desc descriptor.Descriptor) (*ManagedProcess, error) {
	if err := s.claim(desc); err != nil {
		metrics.IncSpawnFailure(desc.Name)
		return nil, &SpawnError{Unit: desc.Name, Err: err}
	}

	p, err := s.launch(desc)
	if err != nil {
		s.release(desc.Name)
		metrics.IncSpawnFailure(desc.Name)
		return nil, &SpawnError{Unit: desc.Name, Err: err}
	}
	metrics.IncSpawn(desc.Name)
	metrics.SetUnitState(desc.Name, string(health.StateStarting))
	s.logger.Info("unit spawned",
		"unit", desc.Name, "pid", p.PID(), "port", desc.Port, "group", string(desc.Group))
	return p, nil
}

// claim registers the descriptor and reserves its slot and port under lock.
// Nothing stays registered on a refused claim.
func (s *Supervisor) claim(desc descriptor.Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.procs[desc.Name]; ok && !prev.Exited() {
		// Covers both a live child and a spawn still in flight.
		return ErrAlreadyRunning
	}
	if desc.Port > 0 && portBound(desc.Port) {
		return fmt.Errorf("%w: %d", ErrPortBusy, desc.Port)
	}
	if err := s.store.Put(desc); err != nil {
		return err
	}
	s.procs[desc.Name] = newManagedProcess(desc, s.opts.HealthRing)
	return nil
}

func (s *Supervisor) release(name string) {
	s.mu.Lock()
	delete(s.procs, name)
	s.mu.Unlock()
	s.store.Remove(name)
}

func (s *Supervisor) launch(desc descriptor.Descriptor) (*ManagedProcess, error) {
	s.mu.Lock()
	p := s.procs[desc.Name]
	s.mu.Unlock()

	cmd := buildCommand(desc.Command)
	if desc.WorkDir != "" {
		cmd.Dir = desc.WorkDir
	}
	env := append([]string(nil), s.opts.BaseEnv...)
	env = append(env, desc.Env...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	logCfg := s.opts.Log
	if logCfg.Dir != "" {
		if err := os.MkdirAll(logCfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	outW, errW, err := logCfg.Writers(desc.Name)
	if err != nil {
		return nil, err
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		_ = outW.Close()
		_ = errW.Close()
		return nil, err
	}
	p.setStarted(cmd, outW, errW)

	meta := state.Meta{
		Name:       desc.Name,
		Port:       desc.Port,
		Group:      desc.Group,
		HealthPath: desc.HealthPath,
		StartUnix:  state.ProcStartUnix(cmd.Process.Pid),
	}
	if err := state.WritePIDFile(s.opts.PIDDir, cmd.Process.Pid, meta); err != nil {
		s.logger.Warn("pid file write failed", "unit", desc.Name, "error", err)
	}

	go s.waitOn(p)
	return p, nil
}

// waitOn reaps the child and finishes the bookkeeping for this run.
func (s *Supervisor) waitOn(p *ManagedProcess) {
	err := p.cmd.Wait()
	p.markExited(err)
	p.closeWriters()
	state.RemovePIDFile(s.opts.PIDDir, p.Name())
	metrics.IncStop(p.Name())
	if err != nil {
		s.logger.Warn("unit exited", "unit", p.Name(), "pid", p.PID(), "error", err)
	} else {
		s.logger.Info("unit exited", "unit", p.Name(), "pid", p.PID())
	}
	if s.opts.OnExit != nil {
		s.opts.OnExit(p, err)
	}
}

// Terminate sends SIGTERM to the unit's process group, waits up to timeout,
// and escalates to SIGKILL. A *ShutdownTimeoutError reports escalation; the
// unit still ends stopped. Terminating an already dead unit is a no-op.
func (s *Supervisor) Terminate(p *ManagedProcess, timeout time.Duration) error {
	p.setStopping()
	if !p.Alive() {
		state.RemovePIDFile(s.opts.PIDDir, p.Name())
		p.setFinal(health.StateStopped)
		metrics.SetUnitState(p.Name(), string(health.StateStopped))
		return nil
	}
	pid := p.PID()
	wd := p.waitDoneChan()
	s.logger.Info("terminating unit", "unit", p.Name(), "pid", pid, "timeout", timeout)
	_ = syscall.Kill(-pid, syscall.SIGTERM)

	var escalated bool
	select {
	case <-wd:
	case <-time.After(timeout):
		escalated = true
		metrics.IncKillEscalation(p.Name())
		s.logger.Warn("graceful stop timed out, sending SIGKILL", "unit", p.Name(), "pid", pid)
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		select {
		case <-wd:
		case <-time.After(2 * time.Second):
			// The waiter did not reap in time; give up rather than block
			// the stop sequence indefinitely.
			p.setFinal(health.StateFailed)
			metrics.SetUnitState(p.Name(), string(health.StateFailed))
			return fmt.Errorf("unit %s (pid %d) did not exit after SIGKILL", p.Name(), pid)
		}
	}
	// The waiter also removes the file, but only after reaping; doing it
	// here too keeps "PID file iff alive" true the moment Terminate returns.
	state.RemovePIDFile(s.opts.PIDDir, p.Name())
	p.setFinal(health.StateStopped)
	metrics.SetUnitState(p.Name(), string(health.StateStopped))
	if escalated {
		return &ShutdownTimeoutError{Unit: p.Name(), PID: pid}
	}
	return nil
}

// TerminatePID stops a process known only from a reconciled PID file, for
// stop invocations that do not hold the spawning supervisor's memory.
func TerminatePID(pid int, timeout time.Duration, log *slog.Logger) error {
	if !state.Alive(pid) {
		return nil
	}
	// The child was spawned with Setpgid, so signal the whole group; fall
	// back to the single process when the group is gone.
	killPG := func(sig syscall.Signal) {
		if err := syscall.Kill(-pid, sig); err != nil {
			_ = syscall.Kill(pid, sig)
		}
	}
	killPG(syscall.SIGTERM)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !state.Alive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	if log != nil {
		log.Warn("graceful stop timed out, sending SIGKILL", "pid", pid)
	}
	killPG(syscall.SIGKILL)
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !state.Alive(pid) {
			return &ShutdownTimeoutError{PID: pid}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("pid %d did not exit after SIGKILL", pid)
}

// portBound reports whether something already accepts TCP connections on
// the loopback port.
func portBound(port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 150*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
