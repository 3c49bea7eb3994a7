package health

import (
	"sync"
	"time"
)

// State classifies a managed unit.
type State string

const (
	StateStarting  State = "starting"
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
	StateStopping  State = "stopping"
	StateStopped   State = "stopped"
	StateFailed    State = "failed"
)

// Terminal reports whether the state ends a unit's run; a terminal unit only
// comes back through a fresh discovery+spawn cycle.
func (s State) Terminal() bool { return s == StateStopped || s == StateFailed }

// Bad reports states that should make a status query exit nonzero.
func (s State) Bad() bool { return s == StateUnhealthy || s == StateFailed }

// Record is one timestamped classification of a unit.
type Record struct {
	State  State     `json:"state"`
	Time   time.Time `json:"time"`
	Detail string    `json:"detail,omitempty"`
}

// Ring keeps the most recent N records. The default capacity of one keeps
// last-known-only, which is all status reporting needs.
type Ring struct {
	mu   sync.Mutex
	buf  []Record
	next int
	n    int
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{buf: make([]Record, capacity)}
}

func (r *Ring) Push(rec Record) {
	r.mu.Lock()
	r.buf[r.next] = rec
	r.next = (r.next + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
	r.mu.Unlock()
}

// Last returns the most recent record, if any.
func (r *Ring) Last() (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n == 0 {
		return Record{}, false
	}
	idx := (r.next - 1 + len(r.buf)) % len(r.buf)
	return r.buf[idx], true
}

// All returns the retained records oldest-first.
func (r *Ring) All() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, r.n)
	start := (r.next - r.n + len(r.buf)) % len(r.buf)
	for i := range r.n {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
