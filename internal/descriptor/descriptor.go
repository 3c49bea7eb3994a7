package descriptor

import (
	"fmt"
	"strings"
)

// Group is the startup-ordering tag of a unit. Groups start in ascending
// priority order and stop in descending order.
type Group string

const (
	GroupTelemetry Group = "telemetry"
	GroupAgent     Group = "agent"
	GroupUI        Group = "ui"
)

// Priority returns the startup rank of the group. Lower ranks start first.
func (g Group) Priority() int {
	switch g {
	case GroupTelemetry:
		return 0
	case GroupAgent:
		return 1
	case GroupUI:
		return 2
	default:
		return 1
	}
}

// Valid reports whether g is one of the known groups.
func (g Group) Valid() bool {
	switch g {
	case GroupTelemetry, GroupAgent, GroupUI:
		return true
	}
	return false
}

// ParseGroup converts a unit-file group value into a Group.
// An empty value defaults to the agent group.
func ParseGroup(s string) (Group, error) {
	switch Group(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return GroupAgent, nil
	case GroupTelemetry:
		return GroupTelemetry, nil
	case GroupAgent:
		return GroupAgent, nil
	case GroupUI:
		return GroupUI, nil
	default:
		return "", fmt.Errorf("unknown group %q", s)
	}
}

// Descriptor describes one independently executable unit discovered on disk.
// It is an immutable value; each discovery pass produces fresh descriptors.
type Descriptor struct {
	Name       string   `json:"name"`
	Command    string   `json:"command"`
	WorkDir    string   `json:"work_dir,omitempty"`
	Port       int      `json:"port"`
	Group      Group    `json:"group"`
	HealthPath string   `json:"health_path,omitempty"`
	Env        []string `json:"env,omitempty"`
}

// ProbeURL returns the readiness endpoint for the unit, or "" when the unit
// declares no port.
func (d Descriptor) ProbeURL() string {
	if d.Port <= 0 {
		return ""
	}
	path := d.HealthPath
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("http://127.0.0.1:%d%s", d.Port, path)
}
