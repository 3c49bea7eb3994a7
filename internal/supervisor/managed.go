package supervisor

import (
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/stackd/internal/descriptor"
	"github.com/loykin/stackd/internal/health"
)

// ManagedProcess owns exactly one OS child process and its bookkeeping.
// One instance exists per live child; the supervisor enforces uniqueness by
// descriptor name. It satisfies health.Target.
type ManagedProcess struct {
	desc descriptor.Descriptor

	mu        sync.Mutex
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	state     health.State
	ring      *health.Ring
	outW      io.WriteCloser
	errW      io.WriteCloser
	waitDone  chan struct{} // closed by the waiter once cmd.Wait returns
	exitErr   error
	stopping  bool
}

func newManagedProcess(desc descriptor.Descriptor, ringSize int) *ManagedProcess {
	return &ManagedProcess{
		desc:  desc,
		state: health.StateStarting,
		ring:  health.NewRing(ringSize),
	}
}

// Descriptor returns the descriptor this process was spawned from.
func (p *ManagedProcess) Descriptor() descriptor.Descriptor { return p.desc }

func (p *ManagedProcess) Name() string { return p.desc.Name }

// PID returns the child's process id, or 0 before start.
func (p *ManagedProcess) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

// StartedAt returns the spawn timestamp.
func (p *ManagedProcess) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedAt
}

// ProbeURL implements health.Target.
func (p *ManagedProcess) ProbeURL() string { return p.desc.ProbeURL() }

// Alive reports whether the child is still in the OS process table. Once the
// waiter has reaped the exit, the answer is false without a syscall.
func (p *ManagedProcess) Alive() bool {
	p.mu.Lock()
	wd := p.waitDone
	pid := p.pid
	p.mu.Unlock()
	if wd == nil || pid <= 0 {
		return false
	}
	select {
	case <-wd:
		return false
	default:
	}
	// Signal the process group; the child was started with Setpgid.
	return syscall.Kill(-pid, 0) == nil
}

// Exited reports whether the waiter has reaped the child. A process whose
// spawn is still in flight has not exited.
func (p *ManagedProcess) Exited() bool {
	p.mu.Lock()
	wd := p.waitDone
	p.mu.Unlock()
	if wd == nil {
		return false
	}
	select {
	case <-wd:
		return true
	default:
		return false
	}
}

// Observe implements health.Target. Monitor classifications advance the
// lifecycle state unless a stop is in progress, where stopping/stopped is
// authoritative.
func (p *ManagedProcess) Observe(rec health.Record) {
	p.mu.Lock()
	p.ring.Push(rec)
	if !p.stopping {
		p.state = rec.State
	}
	p.mu.Unlock()
}

// State returns the current lifecycle state.
func (p *ManagedProcess) State() health.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// LastHealth returns the most recent health record, if any was produced.
func (p *ManagedProcess) LastHealth() (health.Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ring.Last()
}

// ExitErr returns the error from cmd.Wait once the child has been reaped.
func (p *ManagedProcess) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *ManagedProcess) setStarted(cmd *exec.Cmd, outW, errW io.WriteCloser) {
	p.mu.Lock()
	p.cmd = cmd
	p.pid = cmd.Process.Pid
	p.startedAt = time.Now()
	p.state = health.StateStarting
	p.outW = outW
	p.errW = errW
	p.waitDone = make(chan struct{})
	p.mu.Unlock()
}

func (p *ManagedProcess) setStopping() {
	p.mu.Lock()
	p.stopping = true
	p.state = health.StateStopping
	p.mu.Unlock()
}

func (p *ManagedProcess) setFinal(s health.State) {
	p.mu.Lock()
	p.state = s
	p.ring.Push(health.Record{State: s, Time: time.Now()})
	p.mu.Unlock()
}

func (p *ManagedProcess) markExited(err error) {
	p.mu.Lock()
	p.exitErr = err
	if p.waitDone != nil {
		close(p.waitDone)
	}
	p.mu.Unlock()
}

func (p *ManagedProcess) waitDoneChan() chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitDone
}

func (p *ManagedProcess) closeWriters() {
	p.mu.Lock()
	outW, errW := p.outW, p.errW
	p.outW, p.errW = nil, nil
	p.mu.Unlock()
	if outW != nil {
		_ = outW.Close()
	}
	if errW != nil {
		_ = errW.Close()
	}
}
