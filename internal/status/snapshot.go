package status

import (
	"fmt"
	"io"
	"time"

	"github.com/loykin/stackd/internal/descriptor"
	"github.com/loykin/stackd/internal/health"
)

// Unit is one row of a system snapshot: a managed unit together with its
// latest health record.
type Unit struct {
	Name   string           `json:"name"`
	Group  descriptor.Group `json:"group"`
	PID    int              `json:"pid,omitempty"`
	Port   int              `json:"port,omitempty"`
	State  health.State     `json:"state"`
	Detail string           `json:"detail,omitempty"`
	Since  time.Time        `json:"since,omitzero"`
}

// Snapshot is the aggregate on-demand view of the stack. It is computed,
// never independently mutated.
type Snapshot struct {
	TakenAt  time.Time `json:"taken_at"`
	Units    []Unit    `json:"units"`
	Warnings []string  `json:"warnings,omitempty"`
}

// Healthy reports whether no unit is in a bad state. Stopped units are
// expected after a stop and do not count against health.
func (s Snapshot) Healthy() bool {
	for _, u := range s.Units {
		if u.State.Bad() {
			return false
		}
	}
	return true
}

// Render writes a human-readable table of the snapshot.
func (s Snapshot) Render(w io.Writer) {
	fmt.Fprintf(w, "%-20s %-10s %-8s %-6s %s\n", "UNIT", "GROUP", "PID", "PORT", "STATE")
	for _, u := range s.Units {
		pid := "-"
		if u.PID > 0 {
			pid = fmt.Sprintf("%d", u.PID)
		}
		port := "-"
		if u.Port > 0 {
			port = fmt.Sprintf("%d", u.Port)
		}
		line := fmt.Sprintf("%-20s %-10s %-8s %-6s %s", u.Name, string(u.Group), pid, port, string(u.State))
		if u.Detail != "" {
			line += "  (" + u.Detail + ")"
		}
		fmt.Fprintln(w, line)
	}
	for _, warn := range s.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
}
